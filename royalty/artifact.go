package royalty

import (
	"context"
	"fmt"
)

// Renderer turns a final statement into a document (PDF in production).
type Renderer interface {
	Render(ctx context.Context, s Statement) ([]byte, error)
}

// ArtifactStore uploads rendered documents to object storage.
type ArtifactStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Notifier tells the author a statement is available.
type Notifier interface {
	StatementReady(ctx context.Context, s Statement, key string) error
}

// ArtifactKey is the deterministic object key for a statement document.
func ArtifactKey(tenantID TenantID, id StatementID) string {
	return fmt.Sprintf("statements/%s/%s.pdf", tenantID, id)
}

// Publisher hands a final statement to the rendering pipeline.
type Publisher struct {
	Renderer Renderer
	Store    ArtifactStore
	Notifier Notifier // optional
}

// Publish renders, uploads and announces s. Publishing the same statement
// twice overwrites the same key.
func (p *Publisher) Publish(ctx context.Context, s Statement) (string, error) {
	if !s.IsFinal() {
		return "", fmt.Errorf("publish %s: %w", s.ID, ErrStatementNotFinal)
	}
	body, err := p.Renderer.Render(ctx, s)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", s.ID, err)
	}
	key := ArtifactKey(s.TenantID, s.ID)
	if err := p.Store.Put(ctx, key, body, "application/pdf"); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	if p.Notifier != nil {
		if err := p.Notifier.StatementReady(ctx, s, key); err != nil {
			return key, fmt.Errorf("notify %s: %w", s.ID, err)
		}
	}
	return key, nil
}
