// Package game implements the connect-four rules: a 7x6 board, gravity
// drops, win detection and draw detection. It holds no locks, does no I/O
// and never reads the clock; state flows through Apply by value.
package game

import "errors"

const (
	Columns = 7
	Rows    = 6
	ToWin   = 4

	// MaxMoves is the number of cells; reaching it without a win is a draw.
	MaxMoves = Columns * Rows
)

// Player identifies a disc color. The host plays Red, the guest Yellow.
type Player uint8

const (
	None Player = iota
	Red
	Yellow
)

func (p Player) Other() Player {
	switch p {
	case Red:
		return Yellow
	case Yellow:
		return Red
	default:
		return None
	}
}

func (p Player) String() string {
	switch p {
	case Red:
		return "red"
	case Yellow:
		return "yellow"
	default:
		return ""
	}
}

// Status describes whether a game is still being played.
type Status uint8

const (
	InProgress Status = iota
	Won
	Draw
)

func (s Status) String() string {
	switch s {
	case Won:
		return "won"
	case Draw:
		return "draw"
	default:
		return "inProgress"
	}
}

// Board is column-major: Board[c][r] with row 0 at the bottom, so a drop
// fills the lowest empty row of its column.
type Board [Columns][Rows]Player

// Coord addresses a single cell.
type Coord struct {
	Column int `json:"column"`
	Row    int `json:"row"`
}

// State is a complete game position. It is a value; Apply returns a new
// State and never mutates its receiver.
type State struct {
	Board     Board
	Turn      Player
	Status    Status
	Winner    Player
	MoveCount int

	// LastColumn is the most recent drop, -1 before the first move.
	LastColumn int

	// WinningLine lists the cells of every run of four or more through
	// the winning disc, in scan order. Empty unless Status is Won.
	WinningLine []Coord
}

var (
	ErrGameOver      = errors.New("game already over")
	ErrWrongTurn     = errors.New("not this player's turn")
	ErrInvalidColumn = errors.New("column out of range")
	ErrColumnFull    = errors.New("column full")
)

// New returns an empty board with the given player to move.
func New(starting Player) State {
	return State{Turn: starting, LastColumn: -1}
}

// Apply drops a disc for player into column and returns the resulting
// state. On error the returned state equals the receiver and nothing has
// changed. Checks run in order: game over, turn, column bounds, column
// full. A move that completes four in a row wins in the same call; the
// 42nd move without a win is a draw.
func (s State) Apply(player Player, column int) (State, error) {
	if s.Status != InProgress {
		return s, ErrGameOver
	}
	if player != s.Turn {
		return s, ErrWrongTurn
	}
	if column < 0 || column >= Columns {
		return s, ErrInvalidColumn
	}
	row := -1
	for r := 0; r < Rows; r++ {
		if s.Board[column][r] == None {
			row = r
			break
		}
	}
	if row < 0 {
		return s, ErrColumnFull
	}

	s.Board[column][row] = player
	s.MoveCount++
	s.LastColumn = column

	if line := s.winningLine(column, row); len(line) > 0 {
		s.Status = Won
		s.Winner = player
		s.WinningLine = line
		return s, nil
	}
	if s.MoveCount == MaxMoves {
		s.Status = Draw
		return s, nil
	}
	s.Turn = s.Turn.Other()
	return s, nil
}

// Cell returns the disc at the given position, or None outside the board.
func (s *State) Cell(column, row int) Player {
	if !inBounds(column, row) {
		return None
	}
	return s.Board[column][row]
}

var directions = [4][2]int{
	{1, 0},  // horizontal
	{0, 1},  // vertical
	{1, 1},  // diagonal, rising
	{1, -1}, // diagonal, falling
}

// winningLine scans the four directions through the just-placed cell and
// collects every run of at least ToWin discs.
func (s *State) winningLine(column, row int) []Coord {
	var line []Coord
	for _, d := range directions {
		if run := s.runThrough(column, row, d[0], d[1]); len(run) >= ToWin {
			line = append(line, run...)
		}
	}
	return line
}

// runThrough walks to the far end of the same-color run through (column,
// row) along (-dc, -dr), then collects the whole run going forward.
func (s *State) runThrough(column, row, dc, dr int) []Coord {
	player := s.Board[column][row]
	c, r := column, row
	for inBounds(c-dc, r-dr) && s.Board[c-dc][r-dr] == player {
		c, r = c-dc, r-dr
	}
	var run []Coord
	for inBounds(c, r) && s.Board[c][r] == player {
		run = append(run, Coord{Column: c, Row: r})
		c, r = c+dc, r+dr
	}
	return run
}

func inBounds(c, r int) bool {
	return c >= 0 && c < Columns && r >= 0 && r < Rows
}
