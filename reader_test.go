package lsmerge_test

import (
	"bytes"
	"fmt"

	"github.com/bsm/lsmerge"
	"github.com/bsm/lsmerge/source"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/types"
)

var _ = Describe("Reader", func() {
	var subject *lsmerge.Reader
	var data []byte

	HavePos := func(n int) types.GomegaMatcher {
		return WithTransform(func(x interface{ Pos() int }) int {
			return x.Pos()
		}, Equal(n))
	}

	// The following will seed 100 keys into 4 pages, placed
	// at offset 512 after a filler:
	//
	// P0: key00000..key00024
	// P1: key00025..key00049
	// P2: key00050..key00074
	// P3: key00075..key00099
	//
	BeforeEach(func() {
		opts := &lsmerge.Options{MaxPageSize: 25 * recSize}
		nodes, err := mergeAll(seedSource(100), opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(nodes).To(HaveLen(1))

		buf := bytes.NewBuffer(make([]byte, 512))
		_, err = nodes[0].WriteTo(buf)
		Expect(err).NotTo(HaveOccurred())
		data = buf.Bytes()

		subject, err = lsmerge.OpenNode(bytes.NewReader(data), 512, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should init", func() {
		Expect(subject.NumPages()).To(Equal(4))
		Expect(subject.Index().Header.Total).To(Equal(uint32(100)))
		Expect(subject.Index().Header.ID).To(Equal(lsmerge.NodeID{Parent: 1, Seq: 1, Gen: 1}))
		Expect(subject.Index().Entry(3).MaxKey).To(Equal([]byte("key00099")))
	})

	It("should Get/Append", func() {
		for i := 0; i < 100; i++ {
			key := []byte(fmt.Sprintf("key%05d", i))
			Expect(subject.Get(key)).To(Equal([]byte(fmt.Sprintf("value%027d", i))), "for %d", i)
		}

		_, err := subject.Get([]byte("key"))
		Expect(err).To(MatchError(lsmerge.ErrNotFound))
		_, err = subject.Get([]byte("key00024a"))
		Expect(err).To(MatchError(lsmerge.ErrNotFound))
		_, err = subject.Get([]byte("key00100"))
		Expect(err).To(MatchError(lsmerge.ErrNotFound))

		dst, err := subject.Append([]byte("x"), []byte("key00001"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(dst)).To(Equal(fmt.Sprintf("xvalue%027d", 1)))
	})

	It("should not Get deleted keys", func() {
		opts := &lsmerge.Options{SaveDelete: true}
		nodes, err := mergeAll(source.NewSliceIterator(
			lsmerge.Record{Key: []byte("a"), Value: []byte("x"), LSN: 1},
			lsmerge.Record{Key: []byte("b"), LSN: 3, Flags: lsmerge.FlagDelete},
			lsmerge.Record{Key: []byte("b"), Value: []byte("y"), LSN: 2},
		), opts)
		Expect(err).NotTo(HaveOccurred())

		reader, err := openNode(nodes[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(reader.Get([]byte("a"))).To(Equal([]byte("x")))
		_, err = reader.Get([]byte("b"))
		Expect(err).To(MatchError(lsmerge.ErrNotFound))
	})

	It("should retrieve pages", func() {
		p0, err := subject.GetPage(0)
		Expect(err).NotTo(HaveOccurred())
		defer p0.Release()
		Expect(p0.Pos()).To(Equal(0))
		Expect(p0.NumRecords()).To(Equal(25))
		Expect(p0.Header().Count).To(Equal(uint32(25)))

		rec, err := p0.Record(24)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Key).To(Equal([]byte("key00024")))
		Expect(rec.LSN).To(Equal(uint64(25)))

		p1, err := subject.GetPage(1)
		Expect(err).NotTo(HaveOccurred())
		defer p1.Release()
		Expect(p1.Pos()).To(Equal(1))

		Expect(subject.GetPage(-1)).To(HavePos(0))
		Expect(subject.GetPage(9)).To(HavePos(4))
	})

	It("should seek pages", func() {
		Expect(subject.SeekPage([]byte("a"))).To(HavePos(0))
		Expect(subject.SeekPage([]byte("key00024"))).To(HavePos(0))
		Expect(subject.SeekPage([]byte("key00024a"))).To(HavePos(1))
		Expect(subject.SeekPage([]byte("key00060"))).To(HavePos(2))
		Expect(subject.SeekPage([]byte("key00099"))).To(HavePos(3))
		Expect(subject.SeekPage([]byte("key00100"))).To(HavePos(4))
		Expect(subject.SeekPage([]byte("z"))).To(HavePos(4))
	})

	It("should detect corruption", func() {
		corrupt := append([]byte(nil), data...)
		corrupt[len(corrupt)-1] ^= 0xff

		reader, err := lsmerge.OpenNode(bytes.NewReader(corrupt), 512, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = reader.GetPage(3)
		Expect(err).To(MatchError(`lsmerge: checksum mismatch`))

		corrupt = append([]byte(nil), data...)
		corrupt[512+lsmerge.IndexHeaderSize] ^= 0xff
		_, err = lsmerge.OpenNode(bytes.NewReader(corrupt), 512, nil)
		Expect(err).To(MatchError(`lsmerge: checksum mismatch`))

		_, err = lsmerge.OpenNode(bytes.NewReader(data), 0, nil)
		Expect(err).To(MatchError(`lsmerge: bad magic byte sequence`))
	})

	Describe("NodeIterator", func() {
		It("should iterate from beginning", func() {
			iter, err := subject.Iter()
			Expect(err).NotTo(HaveOccurred())
			defer iter.Release()

			Expect(iter.Valid()).To(BeTrue())
			Expect(iter.Record().Key).To(Equal([]byte("key00000")))

			recs := drain(iter)
			Expect(iter.Err()).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(100))
			Expect(recs[25].Key).To(Equal([]byte("key00025")))
			Expect(recs[99].Key).To(Equal([]byte("key00099")))
			Expect(recs[99].Value).To(HaveSuffix("0099"))
		})

		It("should iterate from middle", func() {
			iter, err := subject.Seek([]byte("key00030"))
			Expect(err).NotTo(HaveOccurred())
			defer iter.Release()

			Expect(iter.Valid()).To(BeTrue())
			Expect(iter.Record().Key).To(Equal([]byte("key00030")))
			Expect(drain(iter)).To(HaveLen(70))
		})

		It("should iterate from page boundary", func() {
			iter, err := subject.Seek([]byte("key00024a"))
			Expect(err).NotTo(HaveOccurred())
			defer iter.Release()

			Expect(iter.Valid()).To(BeTrue())
			Expect(iter.Record().Key).To(Equal([]byte("key00025")))
		})

		It("should not iterate when past the end", func() {
			iter, err := subject.Seek([]byte("key00100"))
			Expect(err).NotTo(HaveOccurred())
			defer iter.Release()

			Expect(iter.Valid()).To(BeFalse())
			Expect(iter.Err()).NotTo(HaveOccurred())
		})
	})
})
