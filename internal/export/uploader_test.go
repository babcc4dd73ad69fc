package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openlibris/catalog-storage/internal/streaming"
	"github.com/openlibris/catalog-storage/internal/taskpool"
)

var _ = Describe("uploader", Ordered, func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	newUploader := func(store ObjectStore, partSize int64) *Uploader {
		return NewUploader(store, taskpool.New(1), partSize, tmpDir)
	}

	Context("upload", func() {
		It("writes a small stream as a single part", func() {
			store := newTestObjectStore()
			cur := newTestCursor(testRows(3)...)

			res, err := newUploader(store, DefaultPartSize).Upload(context.TODO(), cur, "tenant1/instance/t1/all.ndjson", nil)
			Expect(err).To(BeNil())
			Expect(res.Records).To(Equal(int64(3)))
			Expect(res.Parts).To(Equal(1))
			Expect(res.Key).To(Equal("tenant1/instance/t1/all.ndjson"))

			Expect(store.uploads).To(HaveLen(1))
			Expect(store.uploads[0].partNumber).To(Equal(1))
			Expect(string(store.uploads[0].content)).To(Equal("{\"n\":1}\n{\"n\":2}\n{\"n\":3}\n"))

			Expect(store.completed).To(HaveLen(1))
			Expect(store.aborts).To(Equal(0))
			Expect(store.puts).To(BeEmpty())
		})

		It("rotates to a new part once the buffer reaches the threshold", func() {
			store := newTestObjectStore()
			cur := newTestCursor(testRows(5)...)

			// every row is larger than the threshold, one part per row
			res, err := newUploader(store, 4).Upload(context.TODO(), cur, "key", nil)
			Expect(err).To(BeNil())
			Expect(res.Records).To(Equal(int64(5)))
			Expect(res.Parts).To(Equal(5))
			Expect(res.Bytes).To(Equal(int64(5 * len("{\"n\":1}\n"))))

			Expect(store.uploads).To(HaveLen(5))
			for i, up := range store.uploads {
				Expect(up.partNumber).To(Equal(i + 1))
				Expect(up.uploadID).To(Equal("upload-1"))
			}

			Expect(store.completed).To(HaveLen(1))
			Expect(store.completed[0]).To(HaveLen(5))
			Expect(store.completed[0][4].ETag).To(Equal("etag-5"))
		})

		It("aborts and writes an empty object for a zero row stream", func() {
			store := newTestObjectStore()
			cur := newTestCursor()

			res, err := newUploader(store, DefaultPartSize).Upload(context.TODO(), cur, "key", nil)
			Expect(err).To(BeNil())
			Expect(res.Records).To(Equal(int64(0)))
			Expect(res.Parts).To(Equal(0))

			Expect(store.aborts).To(Equal(1))
			Expect(store.puts).To(HaveLen(1))
			Expect(store.puts[0].key).To(Equal("key"))
			Expect(store.puts[0].size).To(Equal(int64(0)))
			// a multipart upload with no parts is never completed
			Expect(store.completed).To(BeEmpty())
			Expect(store.uploads).To(BeEmpty())
		})

		It("aborts when a part upload fails and leaves no buffer behind", func() {
			store := newTestObjectStore()
			store.uploadErrAt = 1
			cur := newTestCursor(testRows(3)...)

			_, err := newUploader(store, 4).Upload(context.TODO(), cur, "key", nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("uploading part 1"))

			Expect(store.aborts).To(Equal(1))
			Expect(store.completed).To(BeEmpty())

			entries, rerr := os.ReadDir(tmpDir)
			Expect(rerr).To(BeNil())
			Expect(entries).To(BeEmpty())
		})

		It("fails immediately when the upload cannot be initiated", func() {
			store := newTestObjectStore()
			store.initiateErr = errors.New("bucket not found")
			cur := newTestCursor(testRows(1)...)

			_, err := newUploader(store, DefaultPartSize).Upload(context.TODO(), cur, "key", nil)
			Expect(err).To(HaveOccurred())

			// nothing to tear down
			Expect(store.aborts).To(Equal(0))
			Expect(store.uploads).To(BeEmpty())
			Expect(store.puts).To(BeEmpty())
		})

		It("aborts when completion fails", func() {
			store := newTestObjectStore()
			store.completeErr = errors.New("upload expired")
			cur := newTestCursor(testRows(2)...)

			res, err := newUploader(store, DefaultPartSize).Upload(context.TODO(), cur, "key", nil)
			Expect(err).To(HaveOccurred())
			Expect(store.aborts).To(Equal(1))
			Expect(res.Records).To(Equal(int64(2)))
		})

		It("stops on a progress veto and aborts the upload", func() {
			stop := errors.New("canceled")
			store := newTestObjectStore()
			cur := newTestCursor(testRows(6)...)

			res, err := newUploader(store, DefaultPartSize).Upload(context.TODO(), cur, "key", func(rows int64) error {
				if rows >= 2 {
					return stop
				}
				return nil
			})
			Expect(err).To(Equal(stop))
			Expect(store.aborts).To(Equal(1))
			Expect(store.completed).To(BeEmpty())
			// the rows consumed before the veto stay visible to the caller
			Expect(res.Records).To(Equal(int64(2)))
		})

		It("reports the consumed rows when a part upload fails", func() {
			store := newTestObjectStore()
			store.uploadErrAt = 2
			cur := newTestCursor(testRows(3)...)

			res, err := newUploader(store, 4).Upload(context.TODO(), cur, "key", nil)
			Expect(err).To(HaveOccurred())
			Expect(res.Records).To(Equal(int64(2)))
		})

		It("pauses the cursor for every buffered row and resumes it after", func() {
			store := newTestObjectStore()
			cur := newTestCursor(testRows(4)...)

			_, err := newUploader(store, DefaultPartSize).Upload(context.TODO(), cur, "key", nil)
			Expect(err).To(BeNil())
			Expect(cur.pauses.Load()).To(Equal(int32(4)))
			Expect(cur.resumes.Load()).To(Equal(int32(4)))
		})
	})

	Context("part buffer", func() {
		It("removes the buffer when closing it fails", func() {
			uc := &UploadContext{}
			Expect(uc.openBuffer(tmpDir)).To(Succeed())
			name := uc.file.Name()

			// an already closed file makes the rotation's close fail
			Expect(uc.file.Close()).To(Succeed())

			_, _, err := uc.rotate()
			Expect(err).To(MatchError(ContainSubstring("closing part buffer")))
			Expect(name).NotTo(BeAnExistingFile())
		})
	})
})

func testRows(n int) []streaming.Row {
	rows := make([]streaming.Row, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, streaming.Row{
			ID:       fmt.Sprintf("id-%d", i),
			Document: []byte(fmt.Sprintf(`{"n":%d}`, i)),
		})
	}
	return rows
}

type testCursor struct {
	out     chan streaming.Row
	err     error
	pauses  atomic.Int32
	resumes atomic.Int32
}

func newTestCursor(rows ...streaming.Row) *testCursor {
	c := &testCursor{out: make(chan streaming.Row)}
	go func() {
		defer close(c.out)
		for _, r := range rows {
			c.out <- r
		}
	}()
	return c
}

func (c *testCursor) Rows() <-chan streaming.Row { return c.out }
func (c *testCursor) Err() error                 { return c.err }
func (c *testCursor) Pause()                     { c.pauses.Add(1) }
func (c *testCursor) Resume()                    { c.resumes.Add(1) }
func (c *testCursor) Close() error               { return nil }

type uploadedPart struct {
	uploadID   string
	partNumber int
	content    []byte
}

type putCall struct {
	key  string
	size int64
}

// testObjectStore records every call. Part buffers are read eagerly because
// the uploader removes them as soon as the part confirms.
type testObjectStore struct {
	mu sync.Mutex

	initiateErr error
	uploadErrAt int
	completeErr error
	putErr      error

	initiated int
	uploads   []uploadedPart
	completed [][]CompletedPart
	aborts    int
	puts      []putCall
}

func newTestObjectStore() *testObjectStore {
	return &testObjectStore{}
}

func (s *testObjectStore) InitiateMultipartUpload(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initiateErr != nil {
		return "", s.initiateErr
	}
	s.initiated++
	return fmt.Sprintf("upload-%d", s.initiated), nil
}

func (s *testObjectStore) UploadPart(_ context.Context, key, uploadID string, partNumber int, path string, size int64) (CompletedPart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErrAt != 0 && partNumber >= s.uploadErrAt {
		return CompletedPart{}, errors.New("part rejected")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return CompletedPart{}, err
	}
	if int64(len(content)) != size {
		return CompletedPart{}, fmt.Errorf("size mismatch: got %d want %d", len(content), size)
	}

	s.uploads = append(s.uploads, uploadedPart{uploadID: uploadID, partNumber: partNumber, content: content})
	return CompletedPart{PartNumber: partNumber, ETag: fmt.Sprintf("etag-%d", partNumber)}, nil
}

func (s *testObjectStore) CompleteMultipartUpload(_ context.Context, key, uploadID string, parts []CompletedPart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	s.completed = append(s.completed, append([]CompletedPart{}, parts...))
	return nil
}

func (s *testObjectStore) AbortMultipartUpload(_ context.Context, key, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborts++
	return nil
}

func (s *testObjectStore) PutObject(_ context.Context, key string, body io.Reader, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts = append(s.puts, putCall{key: key, size: size})
	return nil
}
