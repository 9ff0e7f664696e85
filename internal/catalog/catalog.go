package catalog

import "context"

// Product is a storefront product record as read from the catalog.
type Product struct {
	ID       int64   `json:"id"`
	Title    string  `json:"title"`
	Handle   string  `json:"handle"`
	Images   []Image `json:"images"`
	BodyHTML string  `json:"body_html,omitempty"`
}

// Image is one gallery image of a product.
type Image struct {
	ID         int64   `json:"id"`
	Src        string  `json:"src"`
	VariantIDs []int64 `json:"variant_ids,omitempty"`
}

// Client is the destination catalog contract: thin authenticated REST
// passthroughs used by the pipeline. Implementations wrap failures where
// the exchange itself broke as remote.TransportError so the caller's retry
// envelope can tell them apart from well-formed rejections.
type Client interface {
	ListProducts(ctx context.Context, limit int) ([]Product, error)
	// UploadImage publishes image data under the owning product. When
	// forcePrimary is set, the image takes the primary gallery position.
	UploadImage(ctx context.Context, productID int64, data []byte, forcePrimary bool) (Image, error)
	// ReassociateVariant repoints a variant to the given image.
	ReassociateVariant(ctx context.Context, variantID, imageID int64) error
	DeleteImage(ctx context.Context, productID, imageID int64) error
	UpdateDescription(ctx context.Context, productID int64, bodyHTML string) error
}
