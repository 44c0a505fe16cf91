// Package notify carries pipeline notifications over Pub/Sub.
package notify

// PreprocessedMessage announces an image stored by the preprocess service.
type PreprocessedMessage struct {
	GCSPath string `json:"gcs_path"`
}

// ClassifiedMessage announces the prediction made for a stored image.
type ClassifiedMessage struct {
	GCSPath    string  `json:"gcs_path"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}
