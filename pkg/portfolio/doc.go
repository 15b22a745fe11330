// Package portfolio implements the content versioning and publish/draft
// workflow shared by blog posts and projects.
//
// A ContentItem carries two pointers into its version history:
// CurrentVersionID addresses the draft being edited and PublishedVersionID
// addresses the immutable snapshot visible to readers. Saves are routed by
// word-level similarity: minor edits update the latest version in place,
// major edits snapshot a new version.
//
// Typical wiring:
//
//	repo := memory.New()
//	svc, err := portfolio.New(
//	    portfolio.WithRepository(repo),
//	    portfolio.WithBlobStore(store),
//	    portfolio.WithAssetResolver(resolver),
//	)
//
//	item, _ := svc.CreateItem(ctx, portfolio.CreateItemRequest{Type: portfolio.TypePost, Title: "Hello", OwnerID: owner})
//	res, _ := svc.SmartSaveVersion(ctx, owner, portfolio.SmartSaveRequest{Draft: portfolio.DraftInput{ItemID: item.ID, Title: "Hello", Body: body}})
//	_, _ = svc.Publish(ctx, owner, portfolio.PublishRequest{ItemID: item.ID})
package portfolio
