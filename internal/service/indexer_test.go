package service

import (
	"context"
	"errors"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"vaultsearch/internal/domain"
	"vaultsearch/internal/vectorstore/memory"
)

var _ = ginkgo.Describe("Indexer", func() {
	var (
		ctx      context.Context
		store    *memory.Storage
		embedder *keywordEmbedder
		ix       *Indexer
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		store = memory.NewStorage()
		embedder = newKeywordEmbedder()
		ix = NewIndexer(store, embedder, WithBatchSize(2), WithConcurrency(2))
	})

	loadVault := func(notes ...domain.Note) {
		ginkgo.GinkgoHelper()
		Expect(ix.Rebuild(ctx, staticSource{notes: notes})).To(Succeed())
	}

	ginkgo.Context("before the first load", func() {
		ginkgo.It("starts in the loading state", func() {
			Expect(ix.Status()).To(Equal(domain.StatusLoading))
		})

		ginkgo.It("rejects refreshes", func() {
			_, err := ix.Refresh(ctx, []domain.Change{upsert("a.md", "alpha")})
			Expect(err).To(MatchError(domain.ErrNotReady))
			Expect(store.Size()).To(BeZero())
		})

		ginkgo.It("returns to loading when the initial rebuild fails", func() {
			embedder.failAll.Store(true)
			err := ix.Rebuild(ctx, staticSource{notes: []domain.Note{note("a.md", "alpha")}})
			Expect(domain.IsProvider(err)).To(BeTrue())
			Expect(ix.Status()).To(Equal(domain.StatusLoading))
			_, err = ix.Refresh(ctx, []domain.Change{upsert("a.md", "alpha")})
			Expect(err).To(MatchError(domain.ErrNotReady))
		})

		ginkgo.It("reports a failing note source", func() {
			boom := errors.New("disk gone")
			err := ix.Rebuild(ctx, staticSource{err: boom})
			Expect(err).To(MatchError(boom))
			Expect(ix.Status()).To(Equal(domain.StatusLoading))
		})
	})

	ginkgo.Context("rebuild", func() {
		ginkgo.It("embeds every note in batches and becomes ready", func() {
			loadVault(note("a.md", "alpha"), note("b.md", "beta"), note("c.md", "gamma"), note("d.md", "delta"), note("e.md", "alpha"))
			Expect(ix.Status()).To(Equal(domain.StatusReady))
			Expect(store.Size()).To(Equal(5))
			Expect(embedder.batchCalls.Load()).To(BeEquivalentTo(3))
			for _, rec := range store.Snapshot().Records() {
				Expect(rec.Pending()).To(BeFalse())
			}
		})

		ginkgo.It("keeps the last note of a duplicated path", func() {
			loadVault(note("a.md", "alpha"), note("b.md", "beta"), note("a.md", "gamma"))
			Expect(store.Size()).To(Equal(2))
			rec, ok := store.Get("a.md")
			Expect(ok).To(BeTrue())
			Expect(rec.Content).To(Equal("gamma"))
		})

		ginkgo.It("keeps the previous corpus when a runtime rebuild fails", func() {
			loadVault(note("a.md", "alpha"), note("b.md", "beta"))
			embedder.failAll.Store(true)
			err := ix.Rebuild(ctx, staticSource{notes: []domain.Note{note("c.md", "gamma")}})
			Expect(err).To(HaveOccurred())
			Expect(ix.Status()).To(Equal(domain.StatusReady))
			Expect(store.Size()).To(Equal(2))
			_, ok := store.Get("a.md")
			Expect(ok).To(BeTrue())
		})

		ginkgo.It("cancels a rebuild superseded by a newer one", func() {
			gated := newGatedSource(note("old.md", "alpha"))
			first := make(chan error, 1)
			go func() { first <- ix.Rebuild(ctx, gated) }()
			Eventually(gated.entered).Should(BeClosed())

			Expect(ix.Rebuild(ctx, staticSource{notes: []domain.Note{note("new.md", "beta")}})).To(Succeed())
			Eventually(first).Should(Receive(MatchError(context.Canceled)))

			Expect(ix.Status()).To(Equal(domain.StatusReady))
			_, ok := store.Get("old.md")
			Expect(ok).To(BeFalse())
			_, ok = store.Get("new.md")
			Expect(ok).To(BeTrue())
		})

		ginkgo.It("reports whether a rebuild is in flight", func() {
			Expect(ix.Rebuilding()).To(BeFalse())
			gated := newGatedSource(note("a.md", "alpha"))
			done := make(chan error, 1)
			go func() { done <- ix.Rebuild(ctx, gated) }()
			Eventually(gated.entered).Should(BeClosed())
			Expect(ix.Rebuilding()).To(BeTrue())

			close(gated.release)
			Eventually(done).Should(Receive(BeNil()))
			Expect(ix.Rebuilding()).To(BeFalse())
		})

		ginkgo.It("replays refreshes applied while it was computing", func() {
			loadVault(note("a.md", "alpha"), note("b.md", "beta"))

			gated := newGatedSource(note("a.md", "alpha"), note("b.md", "beta"), note("c.md", "gamma"))
			done := make(chan error, 1)
			go func() { done <- ix.Rebuild(ctx, gated) }()
			Eventually(gated.entered).Should(BeClosed())
			Expect(ix.Status()).To(Equal(domain.StatusRefreshing))

			rep, err := ix.Refresh(ctx, []domain.Change{upsert("fresh.md", "delta"), remove("a.md")})
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Upserted).To(Equal(1))
			Expect(rep.Deleted).To(Equal(1))
			_, ok := store.Get("fresh.md")
			Expect(ok).To(BeTrue(), "refresh is visible before the rebuild finishes")

			close(gated.release)
			Eventually(done).Should(Receive(BeNil()))

			Expect(ix.Status()).To(Equal(domain.StatusReady))
			paths := []string{}
			for _, rec := range store.Snapshot().Records() {
				paths = append(paths, rec.Path)
			}
			Expect(paths).To(ConsistOf("b.md", "c.md", "fresh.md"))
		})
	})

	ginkgo.Context("refresh", func() {
		ginkgo.BeforeEach(func() {
			loadVault(note("a.md", "alpha"), note("b.md", "beta"))
		})

		ginkgo.It("is idempotent for repeated upserts", func() {
			change := upsert("c.md", "gamma", "tag")
			for range 2 {
				rep, err := ix.Refresh(ctx, []domain.Change{change})
				Expect(err).NotTo(HaveOccurred())
				Expect(rep.Err()).NotTo(HaveOccurred())
			}
			Expect(store.Size()).To(Equal(3))
			rec, _ := store.Get("c.md")
			Expect(rec.Tags).To(Equal([]string{"tag"}))
		})

		ginkgo.It("removes deleted notes and ignores unknown paths", func() {
			rep, err := ix.Refresh(ctx, []domain.Change{remove("a.md"), remove("missing.md")})
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Deleted).To(Equal(2))
			Expect(store.Size()).To(Equal(1))
			_, ok := store.Get("a.md")
			Expect(ok).To(BeFalse())
		})

		ginkgo.It("moves a note atomically", func() {
			rep, err := ix.Refresh(ctx, []domain.Change{move("a.md", "archive/a.md", "alpha")})
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Upserted).To(Equal(1))
			Expect(rep.Deleted).To(Equal(1))
			_, ok := store.Get("a.md")
			Expect(ok).To(BeFalse())
			_, ok = store.Get("archive/a.md")
			Expect(ok).To(BeTrue())
			Expect(store.Size()).To(Equal(2))
		})

		ginkgo.It("treats a move onto the same path as an update", func() {
			rep, err := ix.Refresh(ctx, []domain.Change{move("a.md", "a.md", "gamma")})
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Deleted).To(BeZero())
			rec, ok := store.Get("a.md")
			Expect(ok).To(BeTrue())
			Expect(rec.Content).To(Equal("gamma"))
		})

		ginkgo.It("skips malformed entries and applies the rest", func() {
			rep, err := ix.Refresh(ctx, []domain.Change{
				{},
				upsert("c.md", ""),
				upsert("d.md", "delta"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Upserted).To(Equal(1))
			Expect(rep.Failed).To(HaveLen(2))
			Expect(rep.Failed[0].Index).To(Equal(0))
			Expect(rep.Failed[1].Path).To(Equal("c.md"))
			Expect(domain.IsValidation(rep.Err())).To(BeTrue())
			_, ok := store.Get("d.md")
			Expect(ok).To(BeTrue())
		})

		ginkgo.It("isolates a provider failure to its own entry", func() {
			rep, err := ix.Refresh(ctx, []domain.Change{
				upsert("c.md", "gamma"),
				upsert("bad.md", "poison"),
				upsert("d.md", "delta"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Upserted).To(Equal(2))
			Expect(rep.Failed).To(HaveLen(1))
			Expect(rep.Failed[0].Path).To(Equal("bad.md"))
			Expect(errors.Is(rep.Failed[0], errPoisoned)).To(BeTrue())
			Expect(domain.IsProvider(rep.Failed[0].Err)).To(BeTrue())
			Expect(store.Size()).To(Equal(4))
		})

		ginkgo.It("leaves the source of a failed move in place", func() {
			rep, err := ix.Refresh(ctx, []domain.Change{move("a.md", "z.md", "poison")})
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Failed).To(HaveLen(1))
			_, ok := store.Get("a.md")
			Expect(ok).To(BeTrue())
			_, ok = store.Get("z.md")
			Expect(ok).To(BeFalse())
		})

		ginkgo.It("does not change the status", func() {
			_, err := ix.Refresh(ctx, []domain.Change{upsert("c.md", "gamma")})
			Expect(err).NotTo(HaveOccurred())
			Expect(ix.Status()).To(Equal(domain.StatusReady))
		})

		ginkgo.It("propagates cancellation", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := ix.Refresh(cctx, []domain.Change{upsert("c.md", "gamma")})
			Expect(err).To(MatchError(context.Canceled))
			Expect(store.Size()).To(Equal(2))
		})
	})
})
