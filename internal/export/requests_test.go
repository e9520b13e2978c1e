package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"galleryaccess/internal/models"
)

func TestPasswordRequestsWorkbook(t *testing.T) {
	items := []models.PasswordRequest{
		{
			GalleryCode:              "WED24",
			FirstName:                "Ada",
			LastName:                 "Rossi",
			Email:                    "ada@example.com",
			Relation:                 "amica",
			Status:                   models.PasswordRequestCompleted,
			SecurityQuestionAnswered: true,
			CreatedAt:                time.Date(2024, 6, 15, 18, 30, 0, 0, time.UTC),
		},
		{
			GalleryCode: "WED24",
			FirstName:   "Bruno",
			LastName:    "Verdi",
			Email:       "bruno@example.com",
			Status:      models.PasswordRequestCompleted,
			CreatedAt:   time.Date(2024, 6, 14, 9, 0, 0, 0, time.UTC),
		},
	}

	data, err := PasswordRequests(items, nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, passwordRequestHeader, rows[0])
	assert.Equal(t, []string{"2024-06-15 18:30", "WED24", "Ada", "Rossi", "ada@example.com", "amica", "completed", "Sì"}, rows[1])
	assert.Equal(t, "No", rows[2][7])
	assert.Equal(t, []string{sheetName}, f.GetSheetList())
}

func TestPasswordRequestsEmpty(t *testing.T) {
	data, err := PasswordRequests(nil, time.UTC)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
