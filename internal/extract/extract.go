// Package extract turns raw gazette summary documents into candidate
// announcements. Parsing is structural: the summary XML nests
// seccion > departamento > (epigrafe >) item, and each item is one notice.
// A malformed block is skipped with a warning; it never aborts the rest
// of the document.
package extract

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"

	"opowatch-engine/internal/domain"
)

type sectionXML struct {
	Code        string    `xml:"codigo,attr"`
	Name        string    `xml:"nombre,attr"`
	Departments []deptXML `xml:"departamento"`
}

type deptXML struct {
	Name      string    `xml:"nombre,attr"`
	Epigraphs []epigXML `xml:"epigrafe"`
	Items     []itemXML `xml:"item"`
}

type epigXML struct {
	Name  string    `xml:"nombre,attr"`
	Items []itemXML `xml:"item"`
}

type itemXML struct {
	ID      string `xml:"identificador"`
	Control string `xml:"control"`
	Title   string `xml:"titulo"`
	URLPDF  string `xml:"url_pdf"`
	URLHTML string `xml:"url_html"`
}

// Result is everything one document yielded.
type Result struct {
	Candidates []domain.Candidate
	Warnings   []domain.Warning
}

// Announcements extracts every notice in the summary section identified by
// sectionCode. It is a pure function: the same bytes always yield the same
// candidates in the same order. An error means the document itself is
// unusable; per-block problems come back as warnings instead.
func Announcements(raw []byte, published domain.Date, sectionCode string) (Result, error) {
	var res Result

	section, err := findSection(raw, sectionCode)
	if err != nil {
		return res, err
	}
	if section == nil {
		res.Warnings = append(res.Warnings, domain.Warning{
			Locator: published.Compact(),
			Reason:  fmt.Sprintf("section %s not present in summary", sectionCode),
		})
		return res, nil
	}

	for di, dept := range section.Departments {
		organism := CleanText(dept.Name)
		if organism == "" {
			res.Warnings = append(res.Warnings, domain.Warning{
				Locator: fmt.Sprintf("%s/dept[%d]", published.Compact(), di),
				Reason:  "department block has no name; skipped",
			})
			continue
		}

		emit := func(locator, category string, it itemXML) {
			c, warn := candidateFrom(it, organism, category, section.Name, published)
			if warn != "" {
				res.Warnings = append(res.Warnings, domain.Warning{Locator: locator, Reason: warn})
				return
			}
			res.Candidates = append(res.Candidates, c)
		}

		for ii, it := range dept.Items {
			emit(fmt.Sprintf("%s/dept[%d]/item[%d]", published.Compact(), di, ii), "", it)
		}
		for ei, ep := range dept.Epigraphs {
			category := CleanText(ep.Name)
			for ii, it := range ep.Items {
				emit(fmt.Sprintf("%s/dept[%d]/epigrafe[%d]/item[%d]", published.Compact(), di, ei, ii), category, it)
			}
		}
	}

	return res, nil
}

// candidateFrom validates and normalizes one item. The returned warning
// string is empty on success.
func candidateFrom(it itemXML, organism, category, sectionName string, published domain.Date) (domain.Candidate, string) {
	id := CleanText(it.ID)
	title := CleanText(it.Title)

	if id == "" {
		return domain.Candidate{}, "item has no identifier; skipped"
	}
	if title == "" {
		return domain.Candidate{}, fmt.Sprintf("item %s has no title; skipped", id)
	}

	if category == "" {
		category = CleanText(sectionName)
	}
	if category == "" {
		category = "Oposiciones y concursos"
	}

	return domain.Candidate{
		SourceRef:   id,
		Control:     CleanText(it.Control),
		Category:    category,
		Organism:    organism,
		Title:       title,
		URLHTML:     CleanText(it.URLHTML),
		URLPDF:      CleanText(it.URLPDF),
		PublishedAt: published,
	}, ""
}

// findSection walks the token stream for the wanted <seccion> so the code
// stays indifferent to however many wrapper elements the API nests the
// summary under.
func findSection(raw []byte, code string) (*sectionXML, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse summary: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "seccion" {
			continue
		}
		var sec sectionXML
		if err := dec.DecodeElement(&sec, &se); err != nil {
			return nil, fmt.Errorf("decode section: %w", err)
		}
		if sec.Code == code {
			return &sec, nil
		}
	}
}
