// Package teleop drives a robot from the keyboard.
//
// A Model is a Bubble Tea program that moves a shared Stick with the arrow
// or WASD keys. The Stick is a pilot.VelocitySource, so the pilot samples it
// on its own period while the terminal program runs in the foreground:
//
//	stick := teleop.NewStick(0.1)
//	p := pilot.New(sender, stick, opts)
//	go p.Run(ctx)
//	_, err := tea.NewProgram(teleop.NewModel("robot 0", stick)).Run()
//
// Odometry can be shown alongside the stick by sending PoseMsg values to the
// running program.
package teleop
