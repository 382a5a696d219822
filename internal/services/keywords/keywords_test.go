package keywords

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tg-antispam-go/internal/config"
	"github.com/tg-antispam-go/internal/models"
	"github.com/tg-antispam-go/internal/services/matcher"
	"github.com/tg-antispam-go/internal/services/storage"
)

func newTestService(t *testing.T) (*Service, *matcher.Cache) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := storage.NewMemoryStorage(&config.Config{}, logger)
	matchers := matcher.NewCache(store, logger, nil)
	return NewService(store, matchers, logger), matchers
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Normalize([]string{" a ", "", "b", "a", "  "}))
	assert.Empty(t, Normalize(nil))
}

func TestAddRemoveIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, _ := newTestService(t)

	added, err := svc.Add(ctx, 1, []string{"spam", "spam", " eggs "})
	assert.NoError(err)
	assert.Equal(2, added)

	added, err = svc.Add(ctx, 1, []string{"spam"})
	assert.NoError(err)
	assert.Equal(0, added)

	removed, err := svc.Remove(ctx, 1, []string{"ham"})
	assert.NoError(err)
	assert.Equal(0, removed)

	list, err := svc.List(ctx, 1)
	assert.NoError(err)
	assert.Equal([]string{"eggs", "spam"}, list)

	removed, err = svc.Remove(ctx, 1, []string{"spam"})
	assert.NoError(err)
	assert.Equal(1, removed)

	list, err = svc.List(ctx, 1)
	assert.NoError(err)
	assert.Equal([]string{"eggs"}, list)
}

func TestMutationsRebuildMatcherSynchronously(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, matchers := newTestService(t)

	_, err := svc.Add(ctx, 7, []string{"免费领取"})
	require.NoError(t, err)
	assert.Equal(1, matchers.Len())

	m, err := matchers.Ensure(ctx, 7)
	require.NoError(t, err)
	assert.True(matches(m, "免费领取红包"))

	_, err = svc.Remove(ctx, 7, []string{"免费领取"})
	require.NoError(t, err)
	m, err = matchers.Ensure(ctx, 7)
	require.NoError(t, err)
	assert.Nil(m)

	_, err = svc.Add(ctx, 7, []string{"a", "b"})
	require.NoError(t, err)
	cleared, err := svc.Clear(ctx, 7)
	assert.NoError(err)
	assert.Equal(2, cleared)
	m, err = matchers.Ensure(ctx, 7)
	require.NoError(t, err)
	assert.False(matches(m, "a b"))
}

func TestExportImportRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Add(ctx, 1, []string{"/v[x]+/", "spam"})
	require.NoError(t, err)

	data, count, err := svc.Export(ctx, 1)
	require.NoError(t, err)
	assert.Equal(2, count)

	var doc models.KeywordExport
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(int64(1), doc.ChatID)
	assert.Equal([]string{"/v[x]+/", "spam"}, doc.Keywords)

	imported, err := svc.Import(ctx, 2, data)
	assert.NoError(err)
	assert.Equal(2, imported)

	imported, err = svc.Import(ctx, 2, []byte(`["spam", "new"]`))
	assert.NoError(err)
	assert.Equal(1, imported)

	list, err := svc.List(ctx, 2)
	assert.NoError(err)
	assert.Equal([]string{"/v[x]+/", "new", "spam"}, list)
}

func TestImportRejectsMalformedInput(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	for _, input := range []string{
		"",
		"spam",
		"[1, 2]",
		`{"words": ["a"]}`,
		`{"keywords": "a"}`,
		`["  ", ""]`,
		`[`,
	} {
		_, err := svc.Import(ctx, 1, []byte(input))
		var verr *models.ValidationError
		assert.True(t, errors.As(err, &verr), "input %q", input)
	}

	list, err := svc.List(ctx, 1)
	assert.NoError(t, err)
	assert.Empty(t, list)
}

func matches(m *matcher.Matcher, text string) bool {
	_, ok := m.Search(text)
	return ok
}
