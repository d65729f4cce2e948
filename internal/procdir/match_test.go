package procdir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchComparesBasenameIgnoringCase(t *testing.T) {
	snapshot := []Entry{
		{PID: 10, Path: "/usr/local/bin/Server"},
		{PID: 11, Path: "/opt/acme/server"},
		{PID: 12, Path: "/opt/acme/server-helper"},
		{PID: 13, Path: `C:\Program Files\Acme\server`},
		{PID: 14, Path: ""},
	}

	pids := matchWithLimit(snapshot, "server", 0)
	require.Equal(t, []int{10, 11, 13}, pids.Sorted())
}

func TestMatchAcceptsPathAsName(t *testing.T) {
	snapshot := []Entry{{PID: 7, Path: "/srv/bin/worker"}}

	pids := matchWithLimit(snapshot, "/some/other/dir/worker", 0)
	require.True(t, pids.Has(7))
}

func TestMatchConsultsAliases(t *testing.T) {
	snapshot := []Entry{
		{PID: 30, Path: "/opt/acme/current/acme-server", Aliases: []string{"/opt/acme/releases/2.1/server-bin", "server-bin"}},
		{PID: 31, Path: "python3", Aliases: []string{"/usr/bin/python3.12"}},
	}

	require.Equal(t, []int{30}, matchWithLimit(snapshot, "acme-server", 0).Sorted())
	require.Equal(t, []int{30}, matchWithLimit(snapshot, "server-bin", 0).Sorted())
	require.Equal(t, []int{31}, matchWithLimit(snapshot, "/usr/bin/python3", 0).Sorted())
	require.Equal(t, []int{31}, matchWithLimit(snapshot, "python3.12", 0).Sorted())
}

func TestMatchEmptyWhenNothingRuns(t *testing.T) {
	snapshot := []Entry{{PID: 1, Path: "/sbin/init"}}

	pids := matchWithLimit(snapshot, "server", 0)
	require.NotNil(t, pids)
	require.Zero(t, pids.Len())

	require.Zero(t, matchWithLimit(snapshot, "", 0).Len())
}

func TestMatchTruncatedNames(t *testing.T) {
	snapshot := []Entry{
		{PID: 20, Path: "reporting-daemo"},
		{PID: 21, Path: "/opt/bin/reporting-daemon"},
		{PID: 22, Path: "reporting-daem"},
	}

	cases := []struct {
		name  string
		limit int
		want  []int
	}{
		{name: "reporting-daemon", limit: 15, want: []int{20, 21}},
		{name: "reporting-daemon", limit: 0, want: []int{21}},
		{name: "reporting-daemo", limit: 15, want: []int{20}},
		{name: "reporting-daemonic", limit: 15, want: []int{20}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, matchWithLimit(snapshot, tc.name, tc.limit).Sorted())
		})
	}
}

func TestBasenameStripsDeletedMarker(t *testing.T) {
	require.Equal(t, "server", Basename("/opt/acme/server (deleted)"))
	require.Equal(t, "", Basename("/opt/acme/"))
}

func TestPIDSet(t *testing.T) {
	set := NewPIDSet(5, 3, 9, 3)
	require.Equal(t, 3, set.Len())
	require.True(t, set.Has(9))
	require.False(t, set.Has(4))
	require.Equal(t, []int{3, 5, 9}, set.Sorted())
}
