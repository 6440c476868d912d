package app

import (
	"github.com/kilnworks/kiln/internal/brick"

	"github.com/kilnworks/kiln/bricks/bader"
	"github.com/kilnworks/kiln/bricks/dos"
	"github.com/kilnworks/kiln/bricks/strain"
	"github.com/kilnworks/kiln/bricks/sweep"
	"github.com/kilnworks/kiln/bricks/vasp"
)

// coreBricks is the definitive list of all bricks compiled into the kiln
// binary.
var coreBricks = []brick.Brick{
	vasp.New(),
	dos.New(),
	bader.New(),
	sweep.New(),
	strain.New(),
}
