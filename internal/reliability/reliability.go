package reliability

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/UkralStul/discussion-board-service/internal/domain"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')]+`)

// Detector проверяет, ссылается ли текст ответа на доверенный домен.
type Detector struct {
	domains map[string]struct{}
}

// NewDetector строит детектор по списку доверенных источников.
func NewDetector(sources []*domain.ReliableSource) *Detector {
	domains := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		domains[strings.ToLower(src.Domain)] = struct{}{}
	}
	return &Detector{domains: domains}
}

// ContainsReliableLink возвращает true, если в тексте есть хотя бы одна
// ссылка на зарегистрированный доверенный домен. Префикс www. не учитывается.
func (d *Detector) ContainsReliableLink(content string) bool {
	if len(d.domains) == 0 {
		return false
	}
	for _, raw := range urlPattern.FindAllString(content, -1) {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		host := strings.ToLower(u.Hostname())
		host = strings.TrimPrefix(host, "www.")
		if _, ok := d.domains[host]; ok {
			return true
		}
	}
	return false
}
