package magento

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxSKULength is the length of catalog_product_entity.sku.
const maxSKULength = 64

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lowercases s, folds accents and joins words with dashes:
// "Chaise Épaisse" becomes "chaise-epaisse".
func Slugify(s string) string {
	folded, _, err := transform.String(foldAccents, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
		default:
			dash = true
		}
	}
	return b.String()
}

// proposeSKU derives a SKU from the product code, or from its name when it
// has none.
func proposeSKU(defaultCode, name string) string {
	sku := defaultCode
	if sku == "" {
		sku = Slugify(name)
	}
	if len(sku) > maxSKULength {
		sku = sku[:maxSKULength]
	}
	return sku
}

// uniqueSKU appends "-0", "-1"... to sku until no product binding of the
// backend uses it.
func uniqueSKU(ctx context.Context, w *connector.Work, sku string) (string, error) {
	binder := w.BinderFor(ModelProduct)
	candidate := sku
	for i := 0; ; i++ {
		taken, err := binder.ToInternal(ctx, candidate)
		if err != nil {
			return "", err
		}
		if taken == nil {
			return candidate, nil
		}
		suffix := strconv.Itoa(i)
		base := sku
		if limit := maxSKULength - 1 - len(suffix); len(base) > limit {
			base = base[:limit]
		}
		candidate = base + "-" + suffix
	}
}
