package dedup

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opowatch-engine/internal/domain"
)

func candidate() domain.Candidate {
	return domain.Candidate{
		SourceRef:   "BOE-A-2024-00001",
		Control:     "240105001",
		Category:    "Cuerpo de Gestión",
		Organism:    "MINISTERIO DE JUSTICIA",
		Title:       "Resolución por la que se convocan pruebas selectivas",
		URLHTML:     "https://www.boe.es/diario_boe/txt.php?id=BOE-A-2024-00001",
		URLPDF:      "https://www.boe.es/boe/dias/2024/01/05/pdfs/BOE-A-2024-00001.pdf",
		PublishedAt: domain.NewDate(2024, time.January, 5),
	}
}

func announcementFrom(c domain.Candidate) *domain.Announcement {
	return &domain.Announcement{
		Fingerprint: Fingerprint(c),
		Version:     1,
		SourceRef:   c.SourceRef,
		Control:     c.Control,
		Category:    c.Category,
		Organism:    c.Organism,
		Title:       c.Title,
		Body:        c.Body,
		URLHTML:     c.URLHTML,
		URLPDF:      c.URLPDF,
		PublishedAt: c.PublishedAt,
		Status:      domain.StatusActive,
	}
}

func TestFingerprintStability(t *testing.T) {
	t.Parallel()

	base := candidate()

	// trivial variants fingerprint identically
	variant := base
	variant.Title = "  resolucion por la que se convocan   PRUEBAS selectivas "
	variant.Organism = "Ministerio de Justicia"
	variant.Category = "cuerpo de gestion"
	assert.Equal(t, Fingerprint(base), Fingerprint(variant))

	// non-identity fields do not participate
	revised := base
	revised.Control = "999"
	revised.Body = "texto completo"
	revised.URLPDF = "https://elsewhere.example/x.pdf"
	assert.Equal(t, Fingerprint(base), Fingerprint(revised))

	// each identity field matters
	diffTitle := base
	diffTitle.Title = "Otra convocatoria"
	assert.NotEqual(t, Fingerprint(base), Fingerprint(diffTitle))

	diffOrganism := base
	diffOrganism.Organism = "UNIVERSIDADES"
	assert.NotEqual(t, Fingerprint(base), Fingerprint(diffOrganism))

	diffCategory := base
	diffCategory.Category = "Cuerpo Superior"
	assert.NotEqual(t, Fingerprint(base), Fingerprint(diffCategory))

	diffDate := base
	diffDate.PublishedAt = base.PublishedAt.AddDays(1)
	assert.NotEqual(t, Fingerprint(base), Fingerprint(diffDate))
}

func TestFingerprintFieldOrderNotConfusable(t *testing.T) {
	t.Parallel()

	a := candidate()
	a.Title = "X"
	a.Organism = "Y"

	b := candidate()
	b.Title = "Y"
	b.Organism = "X"

	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	c := candidate()

	require.Equal(t, New, Classify(c, nil))

	current := announcementFrom(c)
	assert.Equal(t, Unchanged, Classify(c, current))

	// empty candidate body vs hydrated stored body is still unchanged
	withBody := announcementFrom(c)
	withBody.Body = "texto completo de la convocatoria"
	assert.Equal(t, Unchanged, Classify(c, withBody))

	corrected := c
	corrected.Title = "Resolución (corrección de errores) por la que se convocan pruebas selectivas"
	// same fingerprint scenario aside, differing content classifies Updated
	assert.Equal(t, Updated, Classify(corrected, current))

	newControl := c
	newControl.Control = "240105999"
	assert.Equal(t, Updated, Classify(newControl, current))

	// fingerprint collision between genuinely distinct notices resolves
	// as Updated, never as a second New
	collided := c
	collided.SourceRef = "BOE-A-2024-77777"
	collided.Body = "otro texto"
	assert.Equal(t, Updated, Classify(collided, current))
}

func TestKeyedLockSerializesPerKey(t *testing.T) {
	t.Parallel()

	kl := NewKeyedLock()

	const workers = 20
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.Lock("same-fingerprint")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	require.Equal(t, workers, counter)
}

func TestKeyedLockIndependentKeys(t *testing.T) {
	t.Parallel()

	kl := NewKeyedLock()

	unlockA := kl.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := kl.Lock("b") // must not block on a's lock
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on a different key blocked")
	}
	unlockA()
}
