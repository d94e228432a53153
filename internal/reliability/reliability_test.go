package reliability

import (
	"testing"

	"github.com/UkralStul/discussion-board-service/internal/domain"

	"github.com/stretchr/testify/assert"
)

func newTestDetector(domains ...string) *Detector {
	sources := make([]*domain.ReliableSource, len(domains))
	for i, d := range domains {
		sources[i] = &domain.ReliableSource{Domain: d}
	}
	return NewDetector(sources)
}

func TestDetector_MatchesRegisteredDomain(t *testing.T) {
	d := newTestDetector("gov.example", "news.example")

	assert.True(t, d.ContainsReliableLink("источник: https://gov.example/report/2024"))
	assert.True(t, d.ContainsReliableLink("см. http://news.example?id=1"))
	assert.False(t, d.ContainsReliableLink("https://blog.example/opinion"))
}

func TestDetector_IgnoresWWWPrefix(t *testing.T) {
	d := newTestDetector("gov.example")
	assert.True(t, d.ContainsReliableLink("https://www.gov.example/page"))
}

func TestDetector_NoLinks(t *testing.T) {
	d := newTestDetector("gov.example")
	assert.False(t, d.ContainsReliableLink("просто текст без ссылок"))
	assert.False(t, d.ContainsReliableLink("домен gov.example упомянут, но без схемы"))
}

func TestDetector_EmptySourceList(t *testing.T) {
	d := newTestDetector()
	assert.False(t, d.ContainsReliableLink("https://gov.example/page"))
}

func TestDetector_SubdomainDoesNotMatch(t *testing.T) {
	// Детектор сравнивает хост целиком: поддомены регистрируются отдельно
	d := newTestDetector("gov.example")
	assert.False(t, d.ContainsReliableLink("https://fake.gov.example/page"))
}
