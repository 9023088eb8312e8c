package services

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/tbourn/go-merchant-backend/internal/domain"
)

// MaxSuggestions caps autocomplete results.
const MaxSuggestions = 25

// FilterOffers returns the offers whose label or collectible ID contains q,
// ignoring case, in rotation order and at most limit of them. An empty q
// matches everything.
func FilterOffers(offers []domain.Offer, q string, limit int) []domain.Offer {
	if limit <= 0 || limit > MaxSuggestions {
		limit = MaxSuggestions
	}
	folder := cases.Fold()
	needle := folder.String(normalizeLabel(q))
	out := make([]domain.Offer, 0, min(limit, len(offers)))
	for _, o := range offers {
		if len(out) == limit {
			break
		}
		if needle == "" ||
			strings.Contains(folder.String(o.Label), needle) ||
			strings.Contains(folder.String(o.CollectibleID), needle) {
			out = append(out, o)
		}
	}
	return out
}
