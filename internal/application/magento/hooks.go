package magento

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/connectorhq/magento-connector/internal/application/connector"
	"github.com/connectorhq/magento-connector/internal/domain/integration"
	"go.uber.org/zap"
)

// ImageStore keeps downloaded product images.
type ImageStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// Downloader fetches a remote media file. A missing file yields
// integration.ErrIDMissingInBackend.
type Downloader interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// hookFunc adapts a function to connector.Hook.
type hookFunc func(ctx context.Context, w *connector.Work, binding *integration.Binding, record integration.Record) error

func (f hookFunc) Run(ctx context.Context, w *connector.Work, binding *integration.Binding, record integration.Record) error {
	return f(ctx, w, binding, record)
}

// writeProduct stores values on the product wrapped by binding without
// exporting it back.
func writeProduct(ctx context.Context, w *connector.Work, binding *integration.Binding, values integration.Record) error {
	if !binding.HasInternal() {
		return nil
	}
	_, err := w.Services().EntityWriter().Write(integration.WithoutExport(ctx), InternalProduct, binding.InternalID, values)
	return err
}

// ---------------------------------------------------------------------------
// Translations
// ---------------------------------------------------------------------------

// translatableFields are the product fields read once per language.
var translatableFields = []connector.Direct{
	connector.Field("name", "name"),
	connector.Field("description", "description"),
	connector.Field("meta_title", "website_meta_title"),
	connector.Field("meta_description", "website_meta_description"),
	connector.Field("meta_keyword", "website_meta_keywords"),
}

// importTranslations reads the product from one store view per extra
// language and keeps the translated values under "translations".
func importTranslations(ctx context.Context, w *connector.Work, binding *integration.Binding, _ integration.Record) error {
	views, err := storeviewLangs(ctx, w)
	if err != nil || len(views) == 0 {
		return err
	}
	adapter, err := w.Adapter()
	if err != nil {
		return err
	}
	reader, ok := adapter.(integration.StoreviewReader)
	if !ok {
		w.Logger().Debug("adapter cannot read store views, translations skipped")
		return nil
	}
	entity, err := w.Services().Entities.GetByID(ctx, InternalProduct, binding.InternalID)
	if err != nil {
		return err
	}

	translations := integration.Record{}
	if existing, ok := asRecord(entity.Values["translations"]); ok {
		translations.Merge(existing)
	}
	mapper := &connector.Mapper{Direct: translatableFields}
	attributes := make([]string, 0, len(translatableFields))
	for _, f := range translatableFields {
		attributes = append(attributes, f.From)
	}

	for _, view := range views {
		storeview := view.ExternalID
		if w.Backend.Version == integration.Version20 && view.Code != "" {
			storeview = view.Code
		}
		record, err := reader.ReadStoreview(ctx, binding.ExternalID, storeview, attributes)
		if errors.Is(err, integration.ErrIDMissingInBackend) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s in store view %s: %w", binding.ExternalID, storeview, err)
		}
		values, err := mapper.MapRecord(w, flattenCustomAttributes(record)).Values(ctx, connector.MapOptions{Binding: binding})
		if err != nil {
			return err
		}
		translations[view.Lang] = map[string]any(values)
	}
	return writeProduct(ctx, w, binding, integration.Record{"translations": translations})
}

// ---------------------------------------------------------------------------
// Images
// ---------------------------------------------------------------------------

// productImage is one gallery entry to download.
type productImage struct {
	file     string
	url      string
	position int
	primary  bool
}

// productImages lists the enabled images of a product, the base image
// first. 1.x sends ready-made urls, 2.x media gallery entries relative to
// the catalog media path.
func productImages(w *connector.Work, record integration.Record) []productImage {
	var images []productImage
	for _, entry := range records(record["media_gallery_entries"]) {
		if connector.BoolValue(entry["disabled"]) || entry.String("media_type") == "external-video" {
			continue
		}
		file := entry.String("file")
		if file == "" {
			continue
		}
		img := productImage{
			file:     file,
			url:      w.Backend.Location + "/pub/media/catalog/product" + file,
			position: intValue(entry["position"]),
		}
		for _, t := range stringList(entry["types"]) {
			if t == "image" {
				img.primary = true
			}
		}
		images = append(images, img)
	}
	for _, entry := range records(record["images"]) {
		if connector.BoolValue(entry["exclude"]) || entry.String("url") == "" {
			continue
		}
		img := productImage{file: entry.String("file"), url: entry.String("url"), position: intValue(entry["position"])}
		for _, t := range stringList(entry["types"]) {
			if t == "image" {
				img.primary = true
			}
		}
		images = append(images, img)
	}
	sort.SliceStable(images, func(i, j int) bool {
		if images[i].primary != images[j].primary {
			return images[i].primary
		}
		return images[i].position < images[j].position
	})
	return images
}

// imageKey is the object key of a product image.
func imageKey(backend *integration.Backend, sku, file string) string {
	name := path.Base(file)
	if name == "." || name == "/" {
		name = Slugify(file)
	}
	return strings.Join([]string{"products", backend.ID.String(), Slugify(sku), name}, "/")
}

// imageImporter downloads product images into an ImageStore.
type imageImporter struct {
	store      ImageStore
	downloader Downloader
}

func (h *imageImporter) Run(ctx context.Context, w *connector.Work, binding *integration.Binding, record integration.Record) error {
	images := productImages(w, record)
	if len(images) == 0 {
		return nil
	}
	sku := record.String("sku")
	if sku == "" {
		sku = binding.ExternalID
	}
	logger := w.Logger().With(zap.String("external_id", binding.ExternalID))

	var keys []string
	for _, img := range images {
		data, contentType, err := h.downloader.Fetch(ctx, img.url)
		if errors.Is(err, integration.ErrIDMissingInBackend) {
			logger.Warn("product image not found", zap.String("url", img.url))
			continue
		}
		if err != nil {
			return fmt.Errorf("download %s: %w", img.url, err)
		}
		key := imageKey(w.Backend, sku, img.file)
		if err := h.store.Upload(ctx, key, data, contentType); err != nil {
			return fmt.Errorf("store %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil
	}
	logger.Debug("product images stored", zap.Int("count", len(keys)))
	return writeProduct(ctx, w, binding, integration.Record{"image_key": keys[0], "image_keys": keys})
}

// ---------------------------------------------------------------------------
// Bundles
// ---------------------------------------------------------------------------

// importBundle records the selections of a bundle product as components.
func importBundle(ctx context.Context, w *connector.Work, binding *integration.Binding, record integration.Record) error {
	binder := w.BinderFor(ModelProduct)
	var components []any

	add := func(option, externalID string, qty any) error {
		child, err := binder.ToInternal(ctx, externalID)
		if err != nil {
			return err
		}
		if child == nil {
			return integration.NewMappingError(ModelProduct, externalID)
		}
		quantity, err := connector.ToFloat(qty)
		if err != nil {
			return err
		}
		components = append(components, map[string]any{
			"option":     option,
			"product_id": child.InternalID.String(),
			"qty":        quantity,
		})
		return nil
	}

	if w.Backend.Version == integration.Version17 {
		for _, option := range records(record.Path("_bundle_data.options").Value()) {
			for _, sel := range records(option["selections"]) {
				if err := add(option.String("title"), sel.String("product_id"), sel["selection_qty"]); err != nil {
					return err
				}
			}
		}
	} else {
		ext, _ := asRecord(record["extension_attributes"])
		for _, option := range records(ext["bundle_product_options"]) {
			for _, link := range records(option["product_links"]) {
				if err := add(option.String("title"), link.String("sku"), link["qty"]); err != nil {
					return err
				}
			}
		}
	}
	return writeProduct(ctx, w, binding, integration.Record{"bundle_components": components})
}

func registerHooks(reg *connector.Registry, o *options) error {
	if err := reg.RegisterHook(ModelProduct, connector.UsageTranslationImporter, connector.AnyVersion, func(*connector.Work) connector.Hook {
		return hookFunc(importTranslations)
	}); err != nil {
		return err
	}
	if err := reg.RegisterHook(ModelProduct, connector.UsageBundleImporter, connector.AnyVersion, func(*connector.Work) connector.Hook {
		return hookFunc(importBundle)
	}); err != nil {
		return err
	}
	if o.images == nil || o.downloader == nil {
		return nil
	}
	return reg.RegisterHook(ModelProduct, connector.UsageImageImporter, connector.AnyVersion, func(*connector.Work) connector.Hook {
		return &imageImporter{store: o.images, downloader: o.downloader}
	})
}
