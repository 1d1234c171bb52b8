package git

// Status matrix values. Head: absent or present. Workdir: absent, identical to
// HEAD or different. Stage: absent, identical to HEAD, identical to the working
// tree or different from both.
const (
	HeadAbsent  = 0
	HeadPresent = 1

	WorkdirAbsent    = 0
	WorkdirUnchanged = 1
	WorkdirModified  = 2

	StageAbsent         = 0
	StageUnchanged      = 1
	StageMatchesWorkdir = 2
	StageModified       = 3
)

// StatusEntry is one row of the status matrix.
type StatusEntry struct {
	Path    string
	Head    int
	Workdir int
	Stage   int
}

// Changed reports whether the entry carries uncommitted state: at least one value
// diverges from "absent everywhere" and at least one from "unchanged everywhere".
func (e StatusEntry) Changed() bool {
	values := [3]int{e.Head, e.Workdir, e.Stage}
	var notZero, notOne bool
	for _, v := range values {
		if v != 0 {
			notZero = true
		}
		if v != 1 {
			notOne = true
		}
	}
	return notZero && notOne
}

// entryFromCodes maps a porcelain XY pair (index status, worktree status) to a
// status matrix row. The codes are shared by git status --porcelain and go-git.
// Ignored entries ("!!") must be filtered out by the caller.
func entryFromCodes(path string, x, y byte) StatusEntry {
	e := StatusEntry{Path: path, Head: HeadPresent, Workdir: WorkdirUnchanged, Stage: StageUnchanged}

	switch {
	case x == '?' || y == '?':
		return StatusEntry{Path: path, Head: HeadAbsent, Workdir: WorkdirModified, Stage: StageAbsent}
	case x == 'U' || y == 'U' || (x == 'A' && y == 'A') || (x == 'D' && y == 'D'):
		return StatusEntry{Path: path, Head: HeadPresent, Workdir: WorkdirModified, Stage: StageModified}
	}

	switch x {
	case 'A', 'C', 'R':
		e.Head = HeadAbsent
		e.Workdir = WorkdirModified
		e.Stage = StageMatchesWorkdir
	case 'M', 'T':
		e.Workdir = WorkdirModified
		e.Stage = StageMatchesWorkdir
	case 'D':
		e.Workdir = WorkdirAbsent
		e.Stage = StageAbsent
	}

	switch y {
	case 'M', 'T':
		e.Workdir = WorkdirModified
		if e.Stage == StageMatchesWorkdir || e.Head == HeadAbsent {
			e.Stage = StageModified
		}
	case 'D':
		e.Workdir = WorkdirAbsent
		if e.Stage == StageMatchesWorkdir {
			e.Stage = StageModified
		}
	}

	return e
}
