package service

import (
	"context"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"vaultsearch/internal/domain"
	"vaultsearch/internal/vectorstore/memory"
)

var _ = ginkgo.Describe("Searcher", func() {
	var (
		ctx      context.Context
		store    *memory.Storage
		embedder *keywordEmbedder
		ix       *Indexer
		s        *Searcher
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		store = memory.NewStorage()
		embedder = newKeywordEmbedder()
		ix = NewIndexer(store, embedder)
		s = NewSearcher(store, embedder, ix)
	})

	load := func(notes ...domain.Note) {
		ginkgo.GinkgoHelper()
		Expect(ix.Rebuild(ctx, staticSource{notes: notes})).To(Succeed())
	}

	ginkgo.It("is not ready before the first load", func() {
		_, err := s.Search(ctx, "alpha", 3)
		Expect(err).To(MatchError(domain.ErrNotReady))
	})

	ginkgo.DescribeTable("rejects invalid queries",
		func(query string, topK int, field string) {
			load(note("a.md", "alpha"))
			_, err := s.Search(ctx, query, topK)
			var verr *domain.ValidationError
			Expect(err).To(BeAssignableToTypeOf(verr))
			Expect(err.(*domain.ValidationError).Field).To(Equal(field))
		},
		ginkgo.Entry("empty query", "", 3, "query"),
		ginkgo.Entry("blank query", "  \n", 3, "query"),
		ginkgo.Entry("zero top_k", "alpha", 0, "top_k"),
		ginkgo.Entry("negative top_k", "alpha", -2, "top_k"),
	)

	ginkgo.It("returns an empty list for an empty corpus", func() {
		load()
		res, err := s.Search(ctx, "alpha", 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).NotTo(BeNil())
		Expect(res).To(BeEmpty())
		Expect(embedder.oneCalls.Load()).To(BeZero())
	})

	ginkgo.It("clamps top_k to the corpus size and ranks best first", func() {
		load(note("a.md", "alpha"), note("b.md", "alpha beta"), note("c.md", "gamma"))
		res, err := s.Search(ctx, "alpha", 1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(HaveLen(3))
		Expect(res[0].Path).To(Equal("a.md"))
		Expect(res[1].Path).To(Equal("b.md"))
		Expect(res[2].Path).To(Equal("c.md"))
		Expect(res[0].Score).To(BeNumerically("~", 1.0, 1e-9))
		Expect(res[1].Score).To(BeNumerically("~", 0.7071, 1e-4))
		Expect(res[2].Score).To(BeNumerically("~", 0, 1e-9))
	})

	ginkgo.It("scores identical notes equally and keeps corpus order", func() {
		load(note("notes/A.md", "alpha beta", "x"), note("notes/B.md", "alpha beta"))
		res, err := s.Search(ctx, "alpha beta", 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(HaveLen(2))
		Expect(res[0]).To(Equal(domain.Result{Score: res[0].Score, Path: "notes/A.md", Name: "A.md", Content: "alpha beta", Tags: []string{"x"}}))
		Expect(res[0].Score).To(BeNumerically("~", 1.0, 1e-9))
		Expect(res[1].Name).To(Equal("B.md"))
		Expect(res[1].Score).To(BeNumerically("~", 1.0, 1e-9))
	})

	ginkgo.It("no longer returns deleted notes", func() {
		load(note("a.md", "alpha"), note("b.md", "beta"))
		_, err := ix.Refresh(ctx, []domain.Change{remove("a.md")})
		Expect(err).NotTo(HaveOccurred())
		res, err := s.Search(ctx, "alpha", 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(HaveLen(1))
		Expect(res[0].Path).To(Equal("b.md"))
	})

	ginkgo.It("reports provider failures", func() {
		load(note("a.md", "alpha"))
		_, err := s.Search(ctx, "poison", 3)
		Expect(domain.IsProvider(err)).To(BeTrue())
		Expect(err).To(MatchError(errPoisoned))
	})

	ginkgo.It("keeps serving the previous corpus during a runtime rebuild", func() {
		load(note("a.md", "alpha"))
		gated := newGatedSource(note("b.md", "beta"))
		done := make(chan error, 1)
		go func() { done <- ix.Rebuild(ctx, gated) }()
		Eventually(gated.entered).Should(BeClosed())

		res, err := s.Search(ctx, "alpha", 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(HaveLen(1))
		Expect(res[0].Path).To(Equal("a.md"))

		close(gated.release)
		Eventually(done).Should(Receive(BeNil()))
		res, err = s.Search(ctx, "beta", 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(res[0].Path).To(Equal("b.md"))
	})
})
