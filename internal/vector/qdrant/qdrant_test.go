package qdrant

import (
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/whetstone/internal/vector"
)

func TestPointID_Deterministic(t *testing.T) {
	a := PointID("src/a.py:function:main:3")
	b := PointID("src/a.py:function:main:3")
	c := PointID("src/a.py:function:main:9")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}

func TestToFilter(t *testing.T) {
	assert.Nil(t, toFilter(nil))
	assert.Nil(t, toFilter(&vector.Filter{}))

	f := toFilter(&vector.Filter{Repo: "acme/api", FilePathContains: "handler.go"})
	require.Len(t, f.Must, 2)

	repo := f.Must[0].GetField()
	assert.Equal(t, keyRepo, repo.Key)
	assert.Equal(t, "acme/api", repo.Match.GetKeyword())

	path := f.Must[1].GetField()
	assert.Equal(t, keyFilePath, path.Key)
	assert.Equal(t, "handler.go", path.Match.GetText())
}

func TestPayloadRoundTrip(t *testing.T) {
	doc := vector.Document{
		ID:      "svc/handler.go:function:Serve:12",
		Content: "func Serve() {}",
		Metadata: vector.Metadata{
			FilePath:  "svc/handler.go",
			UnitType:  "function",
			Name:      "Serve",
			Language:  ".go",
			Repo:      "acme/api",
			LineStart: 12,
			LineEnd:   40,
		},
	}
	p := toPayload(doc)
	id, content, meta := fromPayload(&pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(doc.ID)}}, p)

	assert.Equal(t, doc.ID, id)
	assert.Equal(t, doc.Content, content)
	assert.Equal(t, doc.Metadata, meta)
}

func TestPayload_NoLineRange(t *testing.T) {
	p := toPayload(vector.Document{ID: "README.md:file:README.md", Metadata: vector.Metadata{FilePath: "README.md", UnitType: "file"}})
	_, hasStart := p[keyLineStart]
	assert.False(t, hasStart)

	_, _, meta := fromPayload(nil, p)
	assert.Zero(t, meta.LineStart)
	assert.Zero(t, meta.LineEnd)
}

func TestFromPayload_FallsBackToPointID(t *testing.T) {
	id, _, _ := fromPayload(&pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "abc"}}, map[string]*pb.Value{})
	assert.Equal(t, "abc", id)
}
