package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"custodychain/pkg/domain"
)

// timestampLayout matches the ISO form written by browser clients.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ProductID decodes from either a JSON number or a numeric string.
type ProductID int

func (id *ProductID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("product id %s: %w", b, err)
	}
	*id = ProductID(n)
	return nil
}

// Reading is a free-form sensor value. Numbers and strings are both accepted
// and kept in their textual form.
type Reading string

func (r *Reading) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = Reading(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("reading %s: %w", b, err)
	}
	*r = Reading(n.String())
	return nil
}

// EnvironmentalLog is one condition record taken while a product was in
// custody.
type EnvironmentalLog struct {
	ProductID      ProductID `json:"productId"`
	Temperature    Reading   `json:"temperature,omitempty"`
	Humidity       Reading   `json:"humidity,omitempty"`
	Timestamp      string    `json:"timestamp"`
	RecordedBy     string    `json:"recordedBy"`
	Certificate    string    `json:"certificate,omitempty"`
	CertificateRef string    `json:"certificateHash,omitempty"`
}

// Document is the evidence file a product's reference points at.
type Document struct {
	Logs []EnvironmentalLog `json:"logs"`
}

// Certificate is an attachment uploaded alongside a log entry.
type Certificate struct {
	Name        string
	ContentType string
	Data        []byte
}

// decodeDocument accepts either {"logs": [...]} or a single bare log.
func decodeDocument(data []byte) (Document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Document{}, fmt.Errorf("decode evidence document: %w", err)
	}
	if _, ok := probe["logs"]; ok {
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return Document{}, fmt.Errorf("decode evidence document: %w", err)
		}
		return doc, nil
	}
	if _, ok := probe["productId"]; ok {
		var entry EnvironmentalLog
		if err := json.Unmarshal(data, &entry); err != nil {
			return Document{}, fmt.Errorf("decode evidence log: %w", err)
		}
		return Document{Logs: []EnvironmentalLog{entry}}, nil
	}
	return Document{}, nil
}

// LoadDocument fetches the document at ref. An empty ref yields an empty
// document.
func (s *Service) LoadDocument(ctx context.Context, ref string) (Document, error) {
	if ref == "" {
		return Document{}, nil
	}
	data, err := s.Get(ctx, ref)
	if err != nil {
		return Document{}, err
	}
	return decodeDocument(data)
}

// AppendLog adds entry to the document at currentRef, storing cert first
// when given, and returns the reference of the new document. The caller
// attaches it to the product with the ledger's evidence update.
func (s *Service) AppendLog(ctx context.Context, currentRef string, entry EnvironmentalLog, cert *Certificate) (string, Document, error) {
	if entry.ProductID <= 0 {
		return "", Document{}, domain.InvalidArgumentError{Field: "productId", Reason: "must be positive"}
	}
	doc, err := s.LoadDocument(ctx, currentRef)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Warn("evidence document missing, starting a new one", "ref", currentRef)
		doc = Document{}
	case err != nil:
		return "", Document{}, err
	}
	if entry.Timestamp == "" {
		entry.Timestamp = s.now().Format(timestampLayout)
	}
	if cert != nil {
		certRef, err := s.Put(ctx, cert.Data, cert.ContentType)
		if err != nil {
			return "", Document{}, fmt.Errorf("store certificate: %w", err)
		}
		entry.Certificate = cert.Name
		entry.CertificateRef = certRef
	}
	doc.Logs = append(doc.Logs, entry)
	ref, err := s.PutJSON(ctx, doc)
	if err != nil {
		return "", Document{}, err
	}
	s.logger.Info("environmental log appended", "product_id", int(entry.ProductID), "ref", ref, "logs", len(doc.Logs))
	return ref, doc, nil
}

// LogsForProduct returns the entries of the document at ref recorded for
// productID.
func (s *Service) LogsForProduct(ctx context.Context, ref string, productID int) ([]EnvironmentalLog, error) {
	doc, err := s.LoadDocument(ctx, ref)
	if err != nil {
		return nil, err
	}
	out := make([]EnvironmentalLog, 0, len(doc.Logs))
	for _, entry := range doc.Logs {
		if int(entry.ProductID) == productID {
			out = append(out, entry)
		}
	}
	return out, nil
}
