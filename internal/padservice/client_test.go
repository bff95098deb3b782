package padservice_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/modules/authoreddoc"
	"github.com/opentalk/controller/internal/padservice"
)

func TestCreateGroupReturnsOpaqueGroupHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/groups", r.URL.Path)
		w.Write([]byte(`{"group_id":"group-1"}`))
	}))
	defer srv.Close()

	c := padservice.New(srv.URL)
	handle, err := c.CreateGroup(t.Context(), ids.Base(ids.New[ids.RoomID]()))
	require.NoError(t, err)

	var decoded struct {
		GroupID string `json:"group_id"`
	}
	require.NoError(t, json.Unmarshal(handle, &decoded))
	require.Equal(t, "group-1", decoded.GroupID)
}

func TestCreateSessionReturnsURLAndSessionInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/groups/group-1/sessions", r.URL.Path)
		w.Write([]byte(`{"session_id":"sess-1","url":"https://pad.example/sess-1"}`))
	}))
	defer srv.Close()

	c := padservice.New(srv.URL)
	group, _ := json.Marshal(map[string]string{"group_id": "group-1"})

	p := ids.New[ids.ParticipantID]()
	info, url, err := c.CreateSession(t.Context(), ids.Base(ids.New[ids.RoomID]()), group, p, false)
	require.NoError(t, err)
	require.Equal(t, "https://pad.example/sess-1", url)
	require.Equal(t, "sess-1", info.SessionID)
	require.Equal(t, "group-1", info.GroupID)
	require.Equal(t, p.String(), info.AuthorID)
	require.False(t, info.Readonly)
}

func TestTeardownSessionIssuesDelete(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
	}))
	defer srv.Close()

	c := padservice.New(srv.URL)
	err := c.TeardownSession(t.Context(), authoreddoc.SessionInfo{GroupID: "group-1", SessionID: "sess-1"})
	require.NoError(t, err)
	require.Equal(t, http.MethodDelete, method)
	require.Equal(t, "/groups/group-1/sessions/sess-1", path)
}

func TestDownloadPDFReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/groups/group-1/sessions/sess-1/pdf", r.URL.Path)
		w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer srv.Close()

	c := padservice.New(srv.URL)
	data, err := c.DownloadPDF(t.Context(), authoreddoc.SessionInfo{GroupID: "group-1", SessionID: "sess-1"})
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4 fake", string(data))
}

func TestDownloadPDFReturnsErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := padservice.New(srv.URL)
	_, err := c.DownloadPDF(t.Context(), authoreddoc.SessionInfo{GroupID: "group-1", SessionID: "sess-1"})
	require.Error(t, err)
}
