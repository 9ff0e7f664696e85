package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey       = "X-API-Key" // #nosec G101 - header name constant, not a credential
	HeaderCatalogToken = "X-Shopify-Access-Token"
	ContentTypeJSON    = "application/json"
)

// API paths
const (
	PathHealthz      = "/healthz"
	PathMetrics      = "/metrics"
	PathProcessImage = "/v1/process-image"
	PathProducts     = "/v1/products"
	PathJobs         = "/v1/jobs"
	PathJobsCSV      = "/v1/jobs/csv"
	PathActiveJob    = "/v1/jobs/active"
	PathResumeJob    = "/v1/jobs/active/resume"
	PathStats        = "/v1/stats"
	PathGenerate     = "/v1/generate"
	PathBalance      = "/v1/balance"
)

// Defaults and limits
const (
	SQLiteBusyTimeoutMS   = 5000
	DefaultRetryAttempts  = 3
	DefaultCatalogVersion = "2024-01"
)

// MIME types
const (
	MimeImagePNG  = "image/png"
	MimeImageJPEG = "image/jpeg"
	MimeImageJPG  = "image/jpg"
	MimeImageWebP = "image/webp"
	MimeImageGIF  = "image/gif"
)

// Subdirectory names
const (
	OutputsDirName = "outputs"
)
