package source_test

import (
	"errors"

	"github.com/bsm/lsmerge"
	"github.com/bsm/lsmerge/source"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("MergingIterator", func() {
	rec := func(key string, lsn uint64) lsmerge.Record {
		return lsmerge.Record{Key: []byte(key), LSN: lsn}
	}

	It("should merge sorted sources", func() {
		subject := source.Merge(nil,
			source.NewSliceIterator(rec("a", 7), rec("c", 3), rec("e", 1)),
			source.NewSliceIterator(rec("b", 4), rec("c", 6), rec("d", 2)),
			source.NewSliceIterator(),
			source.NewSliceIterator(rec("a", 2), rec("f", 9)),
		)

		Expect(drain(subject)).To(Equal([]keyLSN{
			{"a", 7}, {"a", 2}, {"b", 4}, {"c", 6}, {"c", 3}, {"d", 2}, {"e", 1}, {"f", 9},
		}))
		Expect(subject.Err()).NotTo(HaveOccurred())
	})

	It("should prefer earlier sources on ties", func() {
		first := lsmerge.Record{Key: []byte("a"), Value: []byte("first"), LSN: 1}
		second := lsmerge.Record{Key: []byte("a"), Value: []byte("second"), LSN: 1}

		subject := source.Merge(nil, source.NewSliceIterator(second), source.NewSliceIterator(first))
		Expect(subject.Record().Value).To(Equal([]byte("second")))
	})

	It("should merge memtables", func() {
		m1 := source.NewMemtable(0, nil)
		m1.Set([]byte("a"), []byte("1"), 1)
		m2 := source.NewMemtable(0, nil)
		m2.Set([]byte("a"), []byte("2"), 2)

		Expect(drain(source.Merge(nil, m1.Iter(), m2.Iter()))).To(Equal([]keyLSN{{"a", 2}, {"a", 1}}))
	})

	It("should expose errors", func() {
		subject := source.Merge(nil,
			source.NewSliceIterator(rec("a", 1)),
			&failingIterator{err: errors.New("boom")},
		)
		Expect(subject.Valid()).To(BeFalse())
		Expect(subject.Err()).To(MatchError("boom"))
	})
})
