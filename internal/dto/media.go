package dto

// CredentialRequest asks the issuer for a presigned write handle.
type CredentialRequest struct {
	Filename    string `json:"filename" binding:"required" validate:"required"`
	ContentType string `json:"contentType" binding:"required" validate:"required"`
	IsPrivate   bool   `json:"isPrivate"`
}

// CredentialResponse mirrors the external credential issuance contract.
type CredentialResponse struct {
	WriteHandle string `json:"writeHandle"`
	ReadHandle  string `json:"readHandle"`
	StorageKey  string `json:"storageKey"`
}

// AttachArtifact describes one uploaded object to associate with a record.
type AttachArtifact struct {
	StorageKey string  `json:"storageKey" binding:"required" validate:"required"`
	URL        string  `json:"url"`
	Filename   string  `json:"filename" binding:"required" validate:"required"`
	MimeType   string  `json:"mimeType"`
	SizeBytes  int64   `json:"sizeBytes"`
	Caption    *string `json:"caption"`
}

// AttachRequest appends artifacts to a record's media set.
type AttachRequest struct {
	Artifacts []AttachArtifact `json:"artifacts" binding:"required,dive" validate:"required,min=1,dive"`
}

// CaptionRequest sets or clears an artifact caption (null clears).
type CaptionRequest struct {
	Caption *string `json:"caption"`
}

// UploadSessionResponse returns the queued session handle.
type UploadSessionResponse struct {
	SessionID string `json:"sessionId"`
}
