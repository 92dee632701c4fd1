package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"officeagent/internal/domain"
	"officeagent/internal/lexoffice"
)

const (
	NameListContacts   = "list_contacts"
	NameListInvoices   = "list_invoices"
	NameUploadDocument = "upload_document"
)

// Lexoffice is the part of the lexoffice client the tools depend on.
type Lexoffice interface {
	ListContacts(ctx context.Context) ([]lexoffice.Record, error)
	ListInvoices(ctx context.Context) ([]lexoffice.Record, error)
	UploadDocument(ctx context.Context, filePath string) string
}

// NewLexofficeRegistry returns the registry holding exactly the three
// lexoffice tools.
func NewLexofficeRegistry(client Lexoffice, logger *slog.Logger) *Registry {
	return NewRegistry(logger,
		NewListContactsTool(client),
		NewListInvoicesTool(client),
		NewUploadDocumentTool(client),
	)
}

type noInput struct{}

type UploadDocumentInput struct {
	FilePath string `json:"file_path" jsonschema:"required,description=Absolute or relative path to the file to upload."`
}

// --- list_contacts ---

type ListContactsTool struct {
	client Lexoffice
}

func NewListContactsTool(client Lexoffice) *ListContactsTool {
	return &ListContactsTool{client: client}
}

func (t *ListContactsTool) Name() string               { return NameListContacts }
func (t *ListContactsTool) Description() string        { return "Fetch all contacts from Lexoffice." }
func (t *ListContactsTool) Parameters() map[string]any { return SchemaFor[noInput]() }

func (t *ListContactsTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	contacts, err := t.client.ListContacts(ctx)
	if err != nil {
		return "", err
	}
	return marshalRecords(contacts)
}

// --- list_invoices ---

type ListInvoicesTool struct {
	client Lexoffice
}

func NewListInvoicesTool(client Lexoffice) *ListInvoicesTool {
	return &ListInvoicesTool{client: client}
}

func (t *ListInvoicesTool) Name() string               { return NameListInvoices }
func (t *ListInvoicesTool) Description() string        { return "Fetch all invoices from Lexoffice." }
func (t *ListInvoicesTool) Parameters() map[string]any { return SchemaFor[noInput]() }

func (t *ListInvoicesTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	invoices, err := t.client.ListInvoices(ctx)
	if err != nil {
		return "", err
	}
	return marshalRecords(invoices)
}

// --- upload_document ---

// UploadDocumentTool reports every outcome, failures included, as its result
// text with a nil error.
type UploadDocumentTool struct {
	client Lexoffice
}

func NewUploadDocumentTool(client Lexoffice) *UploadDocumentTool {
	return &UploadDocumentTool{client: client}
}

func (t *UploadDocumentTool) Name() string { return NameUploadDocument }

func (t *UploadDocumentTool) Description() string {
	return "Upload a document file to Lexoffice for review. " +
		"Returns a success message containing the document ID, or an error message."
}

func (t *UploadDocumentTool) Parameters() map[string]any { return SchemaFor[UploadDocumentInput]() }

func (t *UploadDocumentTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.client.UploadDocument(ctx, ArgsString(args, "file_path")), nil
}

func marshalRecords(records []lexoffice.Record) (string, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("marshal records: %w", err)
	}
	return string(data), nil
}

var (
	_ domain.Tool = (*ListContactsTool)(nil)
	_ domain.Tool = (*ListInvoicesTool)(nil)
	_ domain.Tool = (*UploadDocumentTool)(nil)
)
