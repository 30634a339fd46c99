package settlement

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MetadataVersion is the schema version written by this package.
const MetadataVersion = 1

// Metadata is the optional audit attachment stored with entries and payments.
// It is never consulted for balances or state transitions.
//
// Schema v1:
//
//	v              schema version
//	reason         why the entry or transition was written
//	payment_id     owning payment reference
//	job_id         job the payment settles
//	fee            fee amount in major units
//	gross          amount plus fee in major units
//	provider       gateway name
//	provider_event gateway event type that caused the write
//	transfer_code  gateway transfer identifier
//	attributes     caller-supplied free-form values
type Metadata struct {
	Version       int            `json:"v"`
	Reason        string         `json:"reason,omitempty"`
	PaymentID     string         `json:"payment_id,omitempty"`
	JobID         string         `json:"job_id,omitempty"`
	Fee           string         `json:"fee,omitempty"`
	Gross         string         `json:"gross,omitempty"`
	Provider      string         `json:"provider,omitempty"`
	ProviderEvent string         `json:"provider_event,omitempty"`
	TransferCode  string         `json:"transfer_code,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// NewMetadata wraps caller attributes in a current-version attachment.
func NewMetadata(attributes map[string]any) Metadata {
	return Metadata{Version: MetadataVersion, Attributes: attributes}
}

// ParseMetadata decodes a stored attachment, treating blank input as empty.
func ParseMetadata(raw string) (Metadata, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" || normalized == "null" {
		return Metadata{Version: MetadataVersion}, nil
	}
	var metadata Metadata
	if err := json.Unmarshal([]byte(normalized), &metadata); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if metadata.Version == 0 {
		metadata.Version = MetadataVersion
	}
	return metadata, nil
}

// JSON encodes the attachment.
func (metadata Metadata) JSON() string {
	if metadata.Version == 0 {
		metadata.Version = MetadataVersion
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Sprintf(`{"v":%d}`, MetadataVersion)
	}
	return string(raw)
}

// WithReason returns a copy carrying reason.
func (metadata Metadata) WithReason(reason string) Metadata {
	metadata.Reason = reason
	return metadata
}

// WithFee returns a copy carrying fee and gross amounts.
func (metadata Metadata) WithFee(fee Amount, gross Amount) Metadata {
	metadata.Fee = fee.String()
	metadata.Gross = gross.String()
	return metadata
}
