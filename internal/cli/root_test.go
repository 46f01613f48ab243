package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Sternrassler/console-store/internal/config"
	"github.com/Sternrassler/console-store/internal/testutil"
	"github.com/Sternrassler/console-store/pkg/listsource"
	"github.com/Sternrassler/console-store/pkg/pagination"
	"github.com/Sternrassler/console-store/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "console-store", cmd.Use)
	assert.Contains(t, cmd.Long, "normalized entity store")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"serve", "list", "get"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	require.NotNil(t, cmd.PersistentFlags().Lookup("api-url"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("token"))
}

func TestListCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	list, _, err := cmd.Find([]string{"list"})
	require.NoError(t, err)

	page := list.Flags().Lookup("page")
	require.NotNil(t, page)
	assert.Equal(t, "1", page.DefValue)
	assert.Equal(t, "p", page.Shorthand)
	assert.Equal(t, "asc", list.Flags().Lookup("order-direction").DefValue)
}

// run executes the root command against a mock console and returns stdout.
func run(t *testing.T, mock *testutil.MockConsole, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvBaseURL, "")
	t.Setenv(config.EnvRedisURL, "")

	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	if mock != nil {
		args = append(args, "--api-url", mock.URL())
	}
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func newMock(t *testing.T, apps int) *testutil.MockConsole {
	t.Helper()
	data := testutil.NewDataset().Add(schema.Application, testutil.Apps("space-1", apps)...)
	mock := testutil.NewMockConsole(data, schema.NewConsoleRegistry())
	t.Cleanup(mock.Close)
	return mock
}

func TestList_RemotePage(t *testing.T) {
	mock := newMock(t, 25)

	out, err := run(t, mock, "list", "apps", "--page", "2", "--format", "json")
	require.NoError(t, err)

	var p listsource.Page
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, 25, p.TotalResults)
	assert.Equal(t, 2, p.PageNumber)
	require.Len(t, p.Rows, 5)
	assert.Equal(t, "app-21", p.Rows[0].ID)
}

func TestList_RemoteQuery(t *testing.T) {
	mock := newMock(t, 25)

	out, err := run(t, mock, "list", "apps", "-q", "app-2", "--order-by", "name", "--order-direction", "desc")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 8, out)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.True(t, strings.HasPrefix(lines[1], "app-25"))
	assert.Contains(t, lines[1], "STARTED")
	assert.Equal(t, "page 1, 6 rows of 6 results", lines[7])
}

func TestList_AllPagesLocal(t *testing.T) {
	mock := newMock(t, 25)

	out, err := run(t, mock, "list", "apps", "--all", "-q", "APP-1", "--order-by", "name", "--order-direction", "desc", "--format", "json")
	require.NoError(t, err)

	var p listsource.Page
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, 10, p.TotalResults)
	require.Len(t, p.Rows, 10)
	assert.Equal(t, "app-19", p.Rows[0].ID)
	assert.Equal(t, "app-10", p.Rows[9].ID)
	assert.Equal(t, 2, mock.RequestCount(), "both pages fetched once")
}

func TestGet(t *testing.T) {
	mock := newMock(t, 5)

	out, err := run(t, mock, "get", "apps", "app-03")
	require.NoError(t, err)
	assert.Contains(t, out, "id:")
	assert.Contains(t, out, "app-03")
	assert.Contains(t, out, "space-1")

	_, err = run(t, mock, "get", "apps", "missing")
	assert.ErrorContains(t, err, "404")
}

func TestCommandErrors(t *testing.T) {
	mock := newMock(t, 1)

	_, err := run(t, mock, "list", "widgets")
	assert.ErrorContains(t, err, "unknown collection")

	_, err = run(t, mock, "list", "apps", "--format", "yaml")
	assert.ErrorContains(t, err, "invalid format")

	_, err = run(t, nil, "list", "apps")
	assert.ErrorIs(t, err, config.ErrMissingBaseURL)

	_, err = run(t, mock, "list", "apps", "--page", "0")
	assert.ErrorIs(t, err, pagination.ErrInvalidPage)
}
