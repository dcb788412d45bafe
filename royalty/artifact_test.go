package royalty_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/royalty-engine/royalty"
)

type fakeRenderer struct{ err error }

func (r fakeRenderer) Render(_ context.Context, s royalty.Statement) ([]byte, error) {
	return []byte("statement " + string(s.ID)), r.err
}

type fakeBucket struct {
	objects map[string][]byte
	types   map[string]string
}

func (b *fakeBucket) Put(_ context.Context, key string, body []byte, contentType string) error {
	if b.objects == nil {
		b.objects, b.types = map[string][]byte{}, map[string]string{}
	}
	b.objects[key] = body
	b.types[key] = contentType
	return nil
}

type fakeNotifier struct{ keys []string }

func (n *fakeNotifier) StatementReady(_ context.Context, _ royalty.Statement, key string) error {
	n.keys = append(n.keys, key)
	return nil
}

func finalStatement() royalty.Statement {
	at := time.Date(2025, time.July, 2, 0, 0, 0, 0, time.UTC)
	return royalty.Statement{ID: "stmt-1", TenantID: "tenant-1", Status: royalty.StatusFinal, FinalizedAt: &at}
}

func TestArtifactKey(t *testing.T) {
	assert.Equal(t, "statements/tenant-1/stmt-1.pdf", royalty.ArtifactKey("tenant-1", "stmt-1"))
}

func TestPublisher_RendersUploadsAndNotifies(t *testing.T) {
	// GIVEN: a final statement
	bucket := &fakeBucket{}
	notifier := &fakeNotifier{}
	p := &royalty.Publisher{Renderer: fakeRenderer{}, Store: bucket, Notifier: notifier}

	// WHEN: publishing it
	key, err := p.Publish(context.Background(), finalStatement())
	require.NoError(t, err)

	// THEN: the document lands under the deterministic key and the author is told
	assert.Equal(t, "statements/tenant-1/stmt-1.pdf", key)
	assert.Equal(t, []byte("statement stmt-1"), bucket.objects[key])
	assert.Equal(t, "application/pdf", bucket.types[key])
	assert.Equal(t, []string{key}, notifier.keys)
}

func TestPublisher_RejectsDrafts(t *testing.T) {
	p := &royalty.Publisher{Renderer: fakeRenderer{}, Store: &fakeBucket{}}
	s := finalStatement()
	s.Status = royalty.StatusDraft

	_, err := p.Publish(context.Background(), s)

	assert.ErrorIs(t, err, royalty.ErrStatementNotFinal)
}

func TestPublisher_RenderFailureUploadsNothing(t *testing.T) {
	bucket := &fakeBucket{}
	p := &royalty.Publisher{Renderer: fakeRenderer{err: errors.New("font missing")}, Store: bucket}

	_, err := p.Publish(context.Background(), finalStatement())

	require.Error(t, err)
	assert.Empty(t, bucket.objects)
}
