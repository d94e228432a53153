package dataloader

import (
	"context"
	"net/http"
	"time"

	"github.com/UkralStul/discussion-board-service/internal/auth"
	"github.com/UkralStul/discussion-board-service/internal/domain"
	"github.com/UkralStul/discussion-board-service/internal/storage"

	"github.com/graph-gophers/dataloader"
)

type contextKey string

const key = contextKey("dataloaders")

// Loaders содержит все дата-лоадеры приложения. Они живут в рамках
// одного запроса: листинг ответов обсуждения догружает вложенные ответы
// и голоса зрителя пачками, а не по одному на каждый корневой ответ.
type Loaders struct {
	ApprovedRepliesByParentID *dataloader.Loader
	ViewerVoteByResponseID    *dataloader.Loader
}

// Middleware для внедрения лоадеров в контекст запроса.
func Middleware(store storage.Storage, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Батч-функция для вложенных ответов: ОДИН запрос к хранилищу
		// на все родительские ID.
		repliesBatchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
			parentIDs := make([]string, len(keys))
			for i, key := range keys {
				parentIDs[i] = key.String()
			}

			repliesMap, err := store.GetApprovedRepliesByParentIDs(ctx, parentIDs)
			if err != nil {
				results := make([]*dataloader.Result, len(keys))
				for i := range results {
					results[i] = &dataloader.Result{Error: err}
				}
				return results
			}

			results := make([]*dataloader.Result, len(keys))
			for i, parentID := range parentIDs {
				results[i] = &dataloader.Result{Data: repliesMap[parentID]}
			}
			return results
		}

		// Батч-функция для голосов зрителя. Зритель берется из контекста
		// вызова Load; для анонимного запроса голосов нет.
		votesBatchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
			results := make([]*dataloader.Result, len(keys))

			viewer, ok := auth.UserFromContext(ctx)
			if !ok {
				for i := range results {
					results[i] = &dataloader.Result{Data: (*domain.VoteType)(nil)}
				}
				return results
			}

			responseIDs := make([]string, len(keys))
			for i, key := range keys {
				responseIDs[i] = key.String()
			}

			votesMap, err := store.GetVotesByResponseIDs(ctx, viewer.ID, responseIDs)
			if err != nil {
				for i := range results {
					results[i] = &dataloader.Result{Error: err}
				}
				return results
			}

			for i, responseID := range responseIDs {
				if voteType, ok := votesMap[responseID]; ok {
					v := voteType
					results[i] = &dataloader.Result{Data: &v}
				} else {
					results[i] = &dataloader.Result{Data: (*domain.VoteType)(nil)}
				}
			}
			return results
		}

		loaders := Loaders{
			ApprovedRepliesByParentID: dataloader.NewBatchedLoader(repliesBatchFn, dataloader.WithWait(time.Millisecond*1)),
			ViewerVoteByResponseID:    dataloader.NewBatchedLoader(votesBatchFn, dataloader.WithWait(time.Millisecond*1)),
		}

		ctx := context.WithValue(r.Context(), key, &loaders)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// For извлекает лоадеры из контекста.
func For(ctx context.Context) *Loaders {
	return ctx.Value(key).(*Loaders)
}
