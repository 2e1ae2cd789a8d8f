package comments

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Thread assembles the visible thread containing anyID. A reply id resolves to
// its root first. Hidden comments are omitted together with their subtrees;
// a hidden or unknown requested comment, or a hidden root, is ErrNotFound.
func (s *Service) Thread(ctx context.Context, anyID string) (*ThreadNode, error) {
	anyID = strings.TrimSpace(anyID)
	var thread *ThreadNode
	err := retryStore(ctx, func() error {
		assembled, err := s.assembleThread(ctx, anyID)
		if err != nil {
			return err
		}
		thread = assembled
		return nil
	})
	if err != nil {
		return nil, err
	}
	return thread, nil
}

func (s *Service) assembleThread(ctx context.Context, anyID string) (*ThreadNode, error) {
	requested, err := s.repo.Find(ctx, anyID)
	if err != nil {
		s.logError(opThread, "comment_select_failed", err, zap.String("comment_id", anyID))
		return nil, newServiceError(opThread, "comment_select_failed", err)
	}
	if requested == nil || !requested.IsActive {
		return nil, ErrNotFound
	}

	rows, err := s.repo.ListThread(ctx, requested.RootID)
	if err != nil {
		s.logError(opThread, "thread_select_failed", err, zap.String("root_id", requested.RootID))
		return nil, newServiceError(opThread, "thread_select_failed", err)
	}

	root := assemble(requested.RootID, rows)
	if root == nil {
		return nil, ErrNotFound
	}
	return root, nil
}

// assemble links rows into a tree under rootID. Rows are expected in display
// order; a row is attached only when its parent was attached, level by level.
func assemble(rootID string, rows []Comment) *ThreadNode {
	var root *ThreadNode
	for index := range rows {
		if rows[index].CommentID == rootID {
			root = &ThreadNode{Comment: rows[index]}
			break
		}
	}
	if root == nil {
		return nil
	}

	included := map[string]*ThreadNode{rootID: root}
	for depth := 1; depth <= MaxDepth; depth++ {
		for index := range rows {
			row := rows[index]
			if row.Depth != depth || row.ParentID == nil {
				continue
			}
			parent, ok := included[*row.ParentID]
			if !ok {
				continue
			}
			node := &ThreadNode{Comment: row}
			parent.Replies = append(parent.Replies, node)
			included[row.CommentID] = node
		}
	}
	return root
}

// ListRoots pages through visible root comments.
func (s *Service) ListRoots(ctx context.Context, query ListQuery) (RootPage, error) {
	if query.Limit <= 0 {
		query.Limit = defaultPageSize
	}
	query.Limit = normalizeLimit(query.Limit, maxPageSize)
	query.Offset = max(query.Offset, 0)

	var page RootPage
	err := retryStore(ctx, func() error {
		comments, total, err := s.repo.ListRoots(ctx, query)
		if err != nil {
			s.logError(opListRoots, "query_failed", err)
			return newServiceError(opListRoots, "query_failed", err)
		}
		page = RootPage{Comments: comments, Total: total}
		return nil
	})
	if err != nil {
		return RootPage{}, err
	}
	return page, nil
}
