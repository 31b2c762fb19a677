package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBlobStore struct {
	mock.Mock
}

func (m *mockBlobStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	args := m.Called(ctx, key, body, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockBlobStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockBlobStore) Presign(ctx context.Context, key string, ttl time.Duration) string {
	return m.Called(ctx, key, ttl).String(0)
}

type mockRecordStore struct {
	mock.Mock
}

func (m *mockRecordStore) Put(ctx context.Context, record *ImageRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *mockRecordStore) Get(ctx context.Context, id string) (*ImageRecord, error) {
	args := m.Called(ctx, id)
	r, _ := args.Get(0).(*ImageRecord)
	return r, args.Error(1)
}

func (m *mockRecordStore) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRecordStore) Scan(ctx context.Context, p Predicate) ([]*ImageRecord, error) {
	args := m.Called(ctx, p)
	r, _ := args.Get(0).([]*ImageRecord)
	return r, args.Error(1)
}

func newMemoryService() (*Service, *MemoryBlobStore, *MemoryRecordStore) {
	blobs := NewMemoryBlobStore("testagram-images")
	records := NewMemoryRecordStore()
	return NewService(blobs, records, WithLogger(testLogger())), blobs, records
}

func upload(t *testing.T, svc *Service, filename string, tags ...string) *ImageRecord {
	t.Helper()
	record, err := svc.Create(context.Background(), CreateImageInput{
		Body:             strings.NewReader("content of " + filename),
		OriginalFilename: filename,
		ContentType:      "image/jpeg",
		Size:             int64(len("content of " + filename)),
		Tags:             tags,
	})
	require.NoError(t, err)
	return record
}

var ignoreURL = cmpopts.IgnoreFields(ImageRecord{}, "DownloadURL")

func TestService_Create(t *testing.T) {
	svc, blobs, _ := newMemoryService()
	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	svc.now = func() time.Time { return now }

	record, err := svc.Create(context.Background(), CreateImageInput{
		Body:             strings.NewReader("jpeg bytes"),
		OriginalFilename: "photo.JPG",
		ContentType:      "image/jpeg",
		Size:             10,
		Tags:             []string{"x", "x"},
		Description:      "A test image",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, record.ID)
	assert.Equal(t, record.ID+".JPG", record.Filename)
	assert.Equal(t, int64(10), record.Size)
	assert.Equal(t, "image/jpeg", record.ContentType)
	assert.Equal(t, "2024-05-01T10:30:00Z", record.CreatedAt)
	assert.Equal(t, []string{"x", "x"}, record.Tags)
	assert.Equal(t, "A test image", record.Description)
	assert.NotEmpty(t, record.DownloadURL)

	data, contentType, ok := blobs.Object(record.Filename)
	require.True(t, ok)
	assert.Equal(t, "jpeg bytes", string(data))
	assert.Equal(t, "image/jpeg", contentType)
}

func TestService_Create_FilenameKeepsExtension(t *testing.T) {
	tests := []struct {
		original string
		suffix   string
	}{
		{"photo.JPG", ".JPG"},
		{"archive.tar.gz", ".gz"},
		{"trailing.", "."},
		{".hidden", ".hidden"},
	}

	svc, _, _ := newMemoryService()
	for _, tt := range tests {
		t.Run(tt.original, func(t *testing.T) {
			record := upload(t, svc, tt.original)
			assert.Equal(t, record.ID+tt.suffix, record.Filename)
		})
	}

	t.Run("no extension", func(t *testing.T) {
		record := upload(t, svc, "README")
		assert.Equal(t, record.ID+".", record.Filename)
	})
}

func TestService_Create_FreshIDs(t *testing.T) {
	svc, _, _ := newMemoryService()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		record := upload(t, svc, "img.png")
		assert.False(t, seen[record.ID], "duplicate id %s", record.ID)
		seen[record.ID] = true
	}
}

func TestService_Create_NilTagsStoredEmpty(t *testing.T) {
	svc, _, _ := newMemoryService()
	record := upload(t, svc, "img.png")
	assert.Equal(t, []string{}, record.Tags)

	got, err := svc.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{}, got.Tags)
}

func TestService_CreateGetRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		tags []string
	}{
		{"tags", []string{"cat", "pet"}},
		{"no tags", nil},
		{"empty tags", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newMemoryService()
			ctx := context.Background()

			created, err := svc.Create(ctx, CreateImageInput{
				Body:             strings.NewReader("bytes"),
				OriginalFilename: "cat.png",
				ContentType:      "image/png",
				Tags:             tt.tags,
				Description:      "a cat",
			})
			require.NoError(t, err)

			got, err := svc.Get(ctx, created.ID)
			require.NoError(t, err)
			if diff := cmp.Diff(created, got, ignoreURL); diff != "" {
				t.Errorf("Get() mismatch (-created +got):\n%s", diff)
			}
			assert.NotEmpty(t, got.DownloadURL)

			listed, err := svc.List(ctx, ImageFilter{})
			require.NoError(t, err)
			require.Len(t, listed, 1)
			if diff := cmp.Diff(created, listed[0], ignoreURL); diff != "" {
				t.Errorf("List() mismatch (-created +listed):\n%s", diff)
			}
		})
	}
}

func TestService_Get_NotFound(t *testing.T) {
	svc, _, _ := newMemoryService()
	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsUpstream(err))
}

func TestService_Delete(t *testing.T) {
	svc, blobs, _ := newMemoryService()
	ctx := context.Background()
	record := upload(t, svc, "del_test.jpg")

	require.NoError(t, svc.Delete(ctx, record.ID))

	_, _, ok := blobs.Object(record.Filename)
	assert.False(t, ok, "blob should be removed")

	_, err := svc.Get(ctx, record.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = svc.Delete(ctx, record.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_List_FilterSemantics(t *testing.T) {
	svc, _, _ := newMemoryService()
	ctx := context.Background()
	first := upload(t, svc, "one.jpg", "a")
	second := upload(t, svc, "two.png", "b")

	t.Run("tag", func(t *testing.T) {
		got, err := svc.List(ctx, ImageFilter{Tag: "a"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, first.ID, got[0].ID)
	})

	t.Run("and of non-matching criteria", func(t *testing.T) {
		got, err := svc.List(ctx, ImageFilter{Tag: "a", Filename: second.Filename})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("filename substring", func(t *testing.T) {
		got, err := svc.List(ctx, ImageFilter{Filename: ".png"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, second.ID, got[0].ID)
	})

	t.Run("blank equals absent", func(t *testing.T) {
		all, err := svc.List(ctx, ImageFilter{})
		require.NoError(t, err)
		blank, err := svc.List(ctx, ImageFilter{Tag: "  ", Filename: "\t"})
		require.NoError(t, err)

		assert.Len(t, all, 2)
		if diff := cmp.Diff(all, blank, ignoreURL); diff != "" {
			t.Errorf("blank filter mismatch (-all +blank):\n%s", diff)
		}
	})

	t.Run("date range is not applied", func(t *testing.T) {
		future := time.Now().Add(24 * time.Hour)
		got, err := svc.List(ctx, ImageFilter{DateFrom: &future})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("urls attached", func(t *testing.T) {
		got, err := svc.List(ctx, ImageFilter{})
		require.NoError(t, err)
		for _, r := range got {
			assert.NotEmpty(t, r.DownloadURL, r.ID)
		}
	})
}

func TestService_PhotoScenario(t *testing.T) {
	svc, _, _ := newMemoryService()
	ctx := context.Background()

	record := upload(t, svc, "photo.JPG", "x")
	assert.Equal(t, record.ID+".JPG", record.Filename)
	assert.Equal(t, []string{"x"}, record.Tags)

	all, err := svc.List(ctx, ImageFilter{})
	require.NoError(t, err)
	var ids []string
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, record.ID)

	got, err := svc.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.DownloadURL)

	require.NoError(t, svc.Delete(ctx, record.ID))

	_, err = svc.Get(ctx, record.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ConcurrentCreates(t *testing.T) {
	svc, _, _ := newMemoryService()
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Create(context.Background(), CreateImageInput{
				Body:             strings.NewReader("x"),
				OriginalFilename: fmt.Sprintf("img%d.png", i),
				ContentType:      "image/png",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	all, err := svc.List(context.Background(), ImageFilter{})
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func TestService_Create_BlobFailureWritesNoRecord(t *testing.T) {
	blobs := &mockBlobStore{}
	records := &mockRecordStore{}
	svc := NewService(blobs, records, WithLogger(testLogger()))

	cause := errors.New("access denied")
	blobs.On("Put", mock.Anything, mock.Anything, mock.Anything, "image/png").Return("", blobFailure("put", cause))

	_, err := svc.Create(context.Background(), CreateImageInput{
		Body:             strings.NewReader("x"),
		OriginalFilename: "a.png",
		ContentType:      "image/png",
	})
	require.Error(t, err)
	assert.True(t, IsUpstream(err))
	assert.ErrorIs(t, err, cause)

	records.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
	blobs.AssertNotCalled(t, "Presign", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Create_RecordFailureLeavesBlob(t *testing.T) {
	blobs := &mockBlobStore{}
	records := &mockRecordStore{}
	svc := NewService(blobs, records, WithLogger(testLogger()))

	blobs.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("k", nil)
	records.On("Put", mock.Anything, mock.Anything).Return(recordFailure("put", errors.New("throttled")))

	_, err := svc.Create(context.Background(), CreateImageInput{
		Body:             strings.NewReader("x"),
		OriginalFilename: "a.png",
	})
	require.Error(t, err)
	assert.True(t, IsUpstream(err))

	// No rollback of the uploaded blob.
	blobs.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	blobs.AssertExpectations(t)
}

func TestService_Create_PresignFailureLeavesURLEmpty(t *testing.T) {
	blobs := &mockBlobStore{}
	records := &mockRecordStore{}
	svc := NewService(blobs, records, WithLogger(testLogger()))

	blobs.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("k", nil)
	blobs.On("Presign", mock.Anything, mock.Anything, DefaultURLTTL).Return("")
	records.On("Put", mock.Anything, mock.Anything).Return(nil)

	record, err := svc.Create(context.Background(), CreateImageInput{
		Body:             strings.NewReader("x"),
		OriginalFilename: "a.png",
	})
	require.NoError(t, err)
	assert.Empty(t, record.DownloadURL)
}

func TestService_Get_UpstreamFailure(t *testing.T) {
	blobs := &mockBlobStore{}
	records := &mockRecordStore{}
	svc := NewService(blobs, records, WithLogger(testLogger()))

	records.On("Get", mock.Anything, "id-1").Return(nil, recordFailure("get", errors.New("timeout")))

	_, err := svc.Get(context.Background(), "id-1")
	require.Error(t, err)
	assert.True(t, IsUpstream(err))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestService_Delete_Order(t *testing.T) {
	blobs := &mockBlobStore{}
	records := &mockRecordStore{}
	svc := NewService(blobs, records, WithLogger(testLogger()))

	var calls []string
	record := &ImageRecord{ID: "id-1", Filename: "id-1.png"}
	records.On("Get", mock.Anything, "id-1").Return(record, nil).
		Run(func(mock.Arguments) { calls = append(calls, "record.get") })
	blobs.On("Delete", mock.Anything, "id-1.png").Return(nil).
		Run(func(mock.Arguments) { calls = append(calls, "blob.delete") })
	records.On("Delete", mock.Anything, "id-1").Return(nil).
		Run(func(mock.Arguments) { calls = append(calls, "record.delete") })

	require.NoError(t, svc.Delete(context.Background(), "id-1"))
	assert.Equal(t, []string{"record.get", "blob.delete", "record.delete"}, calls)
}

func TestService_Delete_NotFoundSkipsBlobStore(t *testing.T) {
	blobs := &mockBlobStore{}
	records := &mockRecordStore{}
	svc := NewService(blobs, records, WithLogger(testLogger()))

	records.On("Get", mock.Anything, "missing").Return(nil, ErrNotFound)

	err := svc.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	blobs.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	records.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestService_Delete_BlobFailureKeepsRecord(t *testing.T) {
	blobs := &mockBlobStore{}
	records := &mockRecordStore{}
	svc := NewService(blobs, records, WithLogger(testLogger()))

	records.On("Get", mock.Anything, "id-1").Return(&ImageRecord{ID: "id-1", Filename: "id-1.png"}, nil)
	blobs.On("Delete", mock.Anything, "id-1.png").Return(blobFailure("delete", errors.New("unreachable")))

	err := svc.Delete(context.Background(), "id-1")
	require.Error(t, err)
	assert.True(t, IsUpstream(err))
	records.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestService_List_PresignsEachRecord(t *testing.T) {
	blobs := &mockBlobStore{}
	records := &mockRecordStore{}
	svc := NewService(blobs, records, WithLogger(testLogger()), WithURLTTL(time.Minute))

	found := []*ImageRecord{
		{ID: "1", Filename: "1.png", Tags: []string{"a"}},
		{ID: "2", Filename: "2.jpg", Tags: []string{"a"}},
	}
	records.On("Scan", mock.Anything, Predicate{Tag: "a"}).Return(found, nil)
	blobs.On("Presign", mock.Anything, "1.png", time.Minute).Return("https://example/1.png")
	blobs.On("Presign", mock.Anything, "2.jpg", time.Minute).Return("")

	got, err := svc.List(context.Background(), ImageFilter{Tag: "a", Filename: " "})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "https://example/1.png", got[0].DownloadURL)
	assert.Equal(t, "", got[1].DownloadURL)
	blobs.AssertNumberOfCalls(t, "Presign", 2)
}

func TestService_List_UpstreamFailure(t *testing.T) {
	blobs := &mockBlobStore{}
	records := &mockRecordStore{}
	svc := NewService(blobs, records, WithLogger(testLogger()))

	records.On("Scan", mock.Anything, Predicate{}).Return(nil, recordFailure("scan", errors.New("boom")))

	_, err := svc.List(context.Background(), ImageFilter{})
	assert.True(t, IsUpstream(err))
	blobs.AssertNotCalled(t, "Presign", mock.Anything, mock.Anything, mock.Anything)
}
