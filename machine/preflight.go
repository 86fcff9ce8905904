package machine

import (
	"fmt"

	"github.com/scanbotics/rigctl/gcode"
	"github.com/scanbotics/rigctl/vm"
)

// CheckScript replays blocks through a virtual rig and validates
// every position they would reach, so a script that leaves the
// envelope or uses codes the firmware would reject fails before any
// motion starts. The replay seeds from the current machine position.
func (c *Controller) CheckScript(blocks []gcode.Block) error {
	track := vm.New()
	track.SetPosition(c.Snapshot().MPos)
	for i, b := range blocks {
		if len(b) == 0 {
			continue
		}
		if err := track.Run(b); err != nil {
			return fmt.Errorf("machine: script block %d %q: %w", i+1, b.String(), err)
		}
		if err := c.cfg.Limits.Validate(track.MPos()); err != nil {
			return fmt.Errorf("machine: script block %d %q: %w", i+1, b.String(), err)
		}
	}
	return nil
}
