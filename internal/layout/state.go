package layout

// State keeps layout inputs between frames and maintains the current page.
// Changing the filter, the pin or the dock mode goes back to page 1; anything
// else only clamps the page into range. State is not safe for concurrent use.
type State struct {
	in Input
}

func NewState(in Input) *State {
	s := &State{in: in}
	s.clampPage()
	return s
}

func (s *State) Input() Input {
	in := s.in
	in.Tiles = append([]Tile(nil), s.in.Tiles...)
	return in
}

func (s *State) Frame() Frame {
	return Compute(s.in)
}

func (s *State) Page() int {
	return s.in.Page
}

func (s *State) SetTiles(tiles []Tile) {
	s.in.Tiles = append([]Tile(nil), tiles...)
	s.clampPage()
}

func (s *State) SetFilter(filter string) {
	if s.in.Filter == filter {
		return
	}
	s.in.Filter = filter
	s.resetPage()
}

func (s *State) SetPinned(id string) {
	if s.in.PinnedID == id {
		return
	}
	s.in.PinnedID = id
	s.resetPage()
}

func (s *State) PinnedID() string {
	return s.in.PinnedID
}

func (s *State) SetDocked(docked bool) {
	if s.in.Docked == docked {
		return
	}
	s.in.Docked = docked
	s.resetPage()
}

func (s *State) Docked() bool {
	return s.in.Docked
}

func (s *State) SetWidth(width int) {
	s.in.Width = width
	s.clampPage()
}

func (s *State) SetCompact(compact bool) {
	s.in.Compact = compact
	s.clampPage()
}

func (s *State) SetPageSize(override int) {
	s.in.PageSize = max(override, 0)
	s.clampPage()
}

func (s *State) SetPage(page int) {
	s.in.Page = page
	s.clampPage()
}

func (s *State) NextPage() {
	s.SetPage(s.in.Page + 1)
}

func (s *State) PrevPage() {
	s.SetPage(s.in.Page - 1)
}

func (s *State) resetPage() {
	s.in.Page = 1
	s.clampPage()
}

func (s *State) clampPage() {
	s.in.Page = Compute(s.in).Page
}
