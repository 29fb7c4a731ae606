// Command dockpilot runs the docking-platform action approval agent.
package main

import "github.com/dockvault/dockpilot/cmd/dockpilot/cmd"

func main() {
	cmd.Execute()
}
