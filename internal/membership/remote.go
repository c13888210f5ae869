package membership

import (
	"context"
	"strings"

	"github.com/dreamware/shardsearch/internal/cluster"
)

// RemoteSource reads membership from the coordinator's GET /membership.
type RemoteSource struct {
	url string
}

// NewRemoteSource reads from the coordinator at baseURL.
func NewRemoteSource(baseURL string) *RemoteSource {
	return &RemoteSource{url: strings.TrimRight(baseURL, "/") + "/membership"}
}

func (s *RemoteSource) Load(ctx context.Context) (State, error) {
	var st State
	err := cluster.GetJSON(ctx, s.url, &st)
	return st, err
}
