package seed

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"galleryaccess/internal/config"
	"galleryaccess/internal/db"
	"galleryaccess/internal/rate"
	"galleryaccess/internal/service"
	"galleryaccess/internal/store"
)

const sample = `
galleries:
  - code: wed24
    name: Anna & Marco
    eventDate: 2024-06-15
    password: wed2024
    securityQuestion:
      type: month
      answer: June
  - code: OPEN
    name: Festa aperta
    eventDate:
      seconds: 1718409600
      nanoseconds: 0
  - code: EPOCH
    name: Epoch
    eventDate: 1718409600
  - code: BROKEN
    name: Domanda senza risposta
    securityQuestion:
      type: custom
      custom: Come si chiama il cane?
`

func TestParse(t *testing.T) {
	items, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, items, 4)

	want := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	require.NotNil(t, items[0].EventDate)
	assert.True(t, items[0].EventDate.Equal(want))
	require.NotNil(t, items[0].Access.Password)
	assert.Equal(t, "wed2024", *items[0].Access.Password)
	assert.True(t, items[0].Access.RequiresSecurityQuestion)
	assert.Equal(t, "month", items[0].Access.SecurityQuestionType)

	require.NotNil(t, items[1].EventDate)
	assert.True(t, items[1].EventDate.Equal(want))
	assert.Nil(t, items[1].Access.Password)
	assert.False(t, items[1].Access.RequiresSecurityQuestion)

	require.NotNil(t, items[2].EventDate)
	assert.True(t, items[2].EventDate.Equal(want))
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader("galleries:\n  - code: X\n    pasword: typo\n"))
	require.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	items, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestApply(t *testing.T) {
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "gallery.db"), 1, 1, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqdb.Close() })
	require.NoError(t, db.ApplyMigrationFile(sqdb, filepath.Join("..", "..", "migrations", "001_init.sql")))
	svc := service.New(config.Config{
		GrantSigningKey:  "seed_test_signing_key_long_enough",
		SecretEncryptKey: "seed_test_encrypt_key_long_enough",
		GrantTTLHours:    1,
		AttemptLimit:     5,
		AttemptWindowMin: 15,
	}, store.New(sqdb, "sqlite"), rate.NewMemory(), nil, nil)

	items, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	results := Apply(context.Background(), svc, items)
	require.Len(t, results, 4)
	for _, r := range results[:3] {
		assert.NoError(t, r.Err, r.Code)
		assert.NotEmpty(t, r.ID)
	}
	assert.ErrorIs(t, results[3].Err, service.ErrValidation)

	info, err := svc.GetGalleryInfo(context.Background(), "WED24")
	require.NoError(t, err)
	assert.Equal(t, "In che mese si è svolto l'evento?", info.SecurityQuestion)
}
