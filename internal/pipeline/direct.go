package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/ppiankov/twinsight/internal/rag"
)

// KnowledgeLookup maps models and documents to RAG collections and files
type KnowledgeLookup interface {
	CollectionID(ctx context.Context, modelID int64) (string, error)
	SyncedFileIDs(ctx context.Context, documentIDs []int64) ([]string, error)
}

// ChatService sends a retrieval-augmented chat request
type ChatService interface {
	Chat(ctx context.Context, req rag.ChatRequest) (*rag.ChatResponse, error)
}

// DirectAdapter asks the RAG service directly, scoped to the evidence
// documents and the model's collection
type DirectAdapter struct {
	chat      ChatService
	knowledge KnowledgeLookup
	logger    *zap.Logger
}

// NewDirectAdapter creates a direct adapter. knowledge may be nil, in
// which case the request carries no retrieval scope.
func NewDirectAdapter(chat ChatService, knowledge KnowledgeLookup, logger *zap.Logger) *DirectAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectAdapter{
		chat:      chat,
		knowledge: knowledge,
		logger:    logger,
	}
}

// Run builds the prompt, scopes retrieval, and asks the RAG service
func (a *DirectAdapter) Run(ctx context.Context, req Request) (*Output, error) {
	collection, files := a.scope(ctx, req)

	resp, err := a.chat.Chat(ctx, rag.ChatRequest{
		Messages: []rag.Message{
			{Role: "user", Content: BuildPrompt(req.Subject, req.Evidence)},
		},
		FileIDs:      files,
		CollectionID: collection,
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("direct analysis complete",
		zap.Int("sources", len(resp.Sources)),
		zap.Int("files", len(files)),
	)
	return &Output{Text: resp.Content, SourceIndexMap: resp.Sources}, nil
}

// scope looks up the collection and file ids. Both lookups are best
// effort; a failure only narrows retrieval.
func (a *DirectAdapter) scope(ctx context.Context, req Request) (string, []string) {
	return ResolveScope(ctx, a.knowledge, req.Subject.modelID(), req.Evidence.DocumentIDs(), a.logger)
}

// ResolveScope returns the collection bound to modelID and the synced
// external file ids of documentIDs. Lookup failures are logged.
func ResolveScope(ctx context.Context, knowledge KnowledgeLookup, modelID int64, documentIDs []int64, logger *zap.Logger) (string, []string) {
	if knowledge == nil {
		return "", nil
	}

	var collection string
	if modelID != 0 {
		id, err := knowledge.CollectionID(ctx, modelID)
		if err != nil {
			logger.Warn("collection lookup failed", zap.Int64("model_id", modelID), zap.Error(err))
		} else {
			collection = id
		}
	}

	var files []string
	if len(documentIDs) > 0 {
		ids, err := knowledge.SyncedFileIDs(ctx, documentIDs)
		if err != nil {
			logger.Warn("file id lookup failed", zap.Int("documents", len(documentIDs)), zap.Error(err))
		} else {
			files = ids
		}
	}
	return collection, files
}
