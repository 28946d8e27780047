package lsmerge_test

import (
	"bytes"
	"fmt"

	"github.com/bsm/lsmerge"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Builder", func() {
	var subject *lsmerge.Builder

	BeforeEach(func() {
		subject = lsmerge.NewBuilder(&lsmerge.Options{Compression: lsmerge.NoCompression})
		subject.Reset()
	})

	It("should build pages", func() {
		Expect(subject.Begin()).To(Succeed())
		for _, rec := range seedRecords(3) {
			rec := rec
			Expect(subject.Add(&rec, false)).To(Succeed())
		}
		Expect(subject.End()).To(Succeed())

		h := subject.Header()
		Expect(h.Count).To(Equal(uint32(3)))
		Expect(h.CountDup).To(Equal(uint32(0)))
		Expect(h.Size).To(Equal(uint32(3 * recSize)))
		Expect(h.SizeOrigin).To(Equal(uint32(3 * recSize)))
		Expect(h.Compression).To(Equal(byte(0)))
		Expect(h.LSNMin).To(Equal(uint64(1)))
		Expect(h.LSNMax).To(Equal(uint64(3)))
		Expect(h.LSNMinDup).To(Equal(uint64(0)))
		Expect(h.Checksum).NotTo(BeZero())

		Expect(subject.Offset()).To(Equal(uint64(0)))
		Expect(subject.MinKey()).To(Equal([]byte("key00000")))
		Expect(subject.MaxKey()).To(Equal([]byte("key00002")))
		Expect(subject.Min().LSN).To(Equal(uint64(1)))
		Expect(subject.Max().Value).To(Equal([]byte(fmt.Sprintf("value%027d", 2))))

		Expect(subject.Bytes()).To(BeEmpty())
		Expect(subject.Commit()).To(Succeed())
		Expect(subject.Bytes()).To(HaveLen(lsmerge.PageHeaderSize + 3*recSize))

		Expect(subject.Begin()).To(Succeed())
		Expect(subject.Offset()).To(Equal(uint64(lsmerge.PageHeaderSize + 3*recSize)))
	})

	It("should track duplicates", func() {
		Expect(subject.Begin()).To(Succeed())
		Expect(subject.Add(&lsmerge.Record{Key: []byte("a"), Value: []byte("5"), LSN: 5}, false)).To(Succeed())
		Expect(subject.Add(&lsmerge.Record{Key: []byte("a"), Value: []byte("3"), LSN: 3}, true)).To(Succeed())
		Expect(subject.Add(&lsmerge.Record{Key: []byte("a"), Value: []byte("2"), LSN: 2}, true)).To(Succeed())
		Expect(subject.Add(&lsmerge.Record{Key: []byte("b"), LSN: 4, Flags: lsmerge.FlagDelete}, false)).To(Succeed())
		Expect(subject.End()).To(Succeed())

		h := subject.Header()
		Expect(h.Count).To(Equal(uint32(4)))
		Expect(h.CountDup).To(Equal(uint32(2)))
		Expect(h.LSNMinDup).To(Equal(uint64(2)))
		Expect(h.LSNMin).To(Equal(uint64(2)))
		Expect(h.LSNMax).To(Equal(uint64(5)))

		first, last := subject.Min(), subject.Max()
		Expect(first.IsDup()).To(BeFalse())
		Expect(last.IsDelete()).To(BeTrue())
		Expect(subject.MaxKey()).To(Equal([]byte("b")))
	})

	It("should guard page state", func() {
		rec := &lsmerge.Record{Key: []byte("a"), LSN: 1}

		Expect(subject.Add(rec, false)).To(MatchError(`lsmerge: build: no open page`))
		Expect(subject.End()).To(MatchError(`lsmerge: build: no open page`))
		Expect(subject.Commit()).To(MatchError(`lsmerge: build: no sealed page`))

		Expect(subject.Begin()).To(Succeed())
		Expect(subject.Begin()).To(MatchError(`lsmerge: build: previous page was not committed`))
		Expect(subject.End()).To(MatchError(`lsmerge: build: empty page`))

		Expect(subject.Add(rec, false)).To(Succeed())
		Expect(subject.End()).To(Succeed())
		Expect(subject.Begin()).To(MatchError(`lsmerge: build: previous page was not committed`))
		Expect(subject.Commit()).To(Succeed())
		Expect(subject.Begin()).To(Succeed())
	})

	It("should reset", func() {
		Expect(subject.Begin()).To(Succeed())
		Expect(subject.Add(&lsmerge.Record{Key: []byte("a"), LSN: 1}, false)).To(Succeed())
		Expect(subject.End()).To(Succeed())
		Expect(subject.Commit()).To(Succeed())
		Expect(subject.Bytes()).NotTo(BeEmpty())

		subject.Reset()
		Expect(subject.Bytes()).To(BeEmpty())
		Expect(subject.Begin()).To(Succeed())
		Expect(subject.Offset()).To(Equal(uint64(0)))
	})

	It("should compress (well-compressable)", func() {
		subject = lsmerge.NewBuilder(nil)
		subject.Reset()

		val := bytes.Repeat([]byte("testdata"), 16)
		Expect(subject.Begin()).To(Succeed())
		for i := 0; i < 100; i++ {
			key := []byte(fmt.Sprintf("key%05d", i))
			Expect(subject.Add(&lsmerge.Record{Key: key, Value: val, LSN: 1}, false)).To(Succeed())
		}
		Expect(subject.End()).To(Succeed())

		h := subject.Header()
		Expect(h.Compression).To(Equal(byte(1)))
		Expect(h.SizeOrigin).To(Equal(uint32(100 * (lsmerge.RecordHeaderSize + 8 + 128))))
		Expect(h.Size).To(BeNumerically("<", h.SizeOrigin/2))
	})
})
