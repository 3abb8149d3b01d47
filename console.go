package main

import (
	"errors"
	"strconv"
	"strings"

	"github.com/CodedInternet/gocrane/comms"
	"github.com/CodedInternet/gocrane/crane"
	"github.com/CodedInternet/gocrane/store"
	"github.com/abiosoft/ishell/v2"
)

// commandCmd parses the arguments exactly as the remote process would parse
// "<keyword> <args...>" and submits the result.
func (a *App) commandCmd(name, keyword, help string) *ishell.Cmd {
	return &ishell.Cmd{
		Name: name,
		Help: help,
		Func: func(c *ishell.Context) {
			cmd, err := comms.ParseCommand(keyword + " " + strings.Join(c.Args, " "))
			if err != nil {
				c.Err(err)
				return
			}
			if err := a.Submit(cmd, ""); err != nil {
				c.Err(err)
				return
			}
			c.Println("sent:", comms.Encode(cmd))
		},
	}
}

// NewShell builds the operator console.
func (a *App) NewShell() *ishell.Shell {
	shell := ishell.New()
	shell.Println("Crane operator shell")
	shell.ShowPrompt(true)

	shell.AddCmd(a.commandCmd("setpoints", comms.KeywordSetActuatorSetpoints,
		"setpoints <swing°> <lift mm> <elbow°> <wrist°> <gripper mm>"))
	shell.AddCmd(a.commandCmd("speed", comms.KeywordSetSpeed,
		"speed <swing°/s> <lift mm/s> <elbow°/s> <wrist°/s> <gripper mm/s>"))
	shell.AddCmd(a.commandCmd("goto", comms.KeywordSetPoint,
		"goto <x m> <y m, up> <z m>, the frame pose reports in"))
	shell.AddCmd(a.commandCmd("refresh", comms.KeywordRefresh,
		"refresh <ms>"))

	shell.AddCmd(&ishell.Cmd{
		Name: "state",
		Help: "show the connection state and the last joint values",
		Func: func(c *ishell.Context) {
			c.Println("connection:", a.Supervisor.State())
			js, ok := a.Supervisor.Snapshot()
			if !ok {
				c.Println("no telemetry yet")
				return
			}
			c.Println(js)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "pose",
		Help: "show the position of every link frame in meters",
		Func: func(c *ishell.Context) {
			js, ok := a.Supervisor.Snapshot()
			if !ok {
				c.Println("no telemetry yet")
				return
			}
			for _, p := range newPosePayloads(crane.Compute(js, a.Geometry)) {
				c.Printf("%-10s x=%7.3f y=%7.3f z=%7.3f\n", p.Link, p.Position[0], p.Position[1], p.Position[2])
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "history",
		Help: "history [n], the last submitted commands",
		Func: func(c *ishell.Context) {
			n := 10
			if len(c.Args) >= 1 {
				v, err := strconv.Atoi(c.Args[0])
				if err != nil {
					c.Err(err)
					return
				}
				n = v
			}

			records, err := a.Store.RecentCommands(n)
			if err != nil {
				c.Err(err)
				return
			}
			for _, rec := range records {
				c.Printf("%s  %-24s %s\n", rec.SubmittedAt.Local().Format("15:04:05.000"), rec.Operator, rec.Frame)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "createoperator",
		Help: "createoperator <email> <password>",
		Func: func(c *ishell.Context) {
			// disable the '>>>' for cleaner same line input.
			c.ShowPrompt(false)
			defer c.ShowPrompt(true) // yes, revert when done.

			var email string
			if len(c.Args) >= 1 {
				email = c.Args[0]
			} else {
				c.Print("Email: ")
				email = c.ReadLine()
			}

			var password string
			if len(c.Args) >= 2 {
				password = c.Args[1]
			} else {
				c.Print("Password: ")
				password = c.ReadPassword()
			}

			if err := createOperator(a.Store, email, password); err != nil {
				c.Err(err)
				return
			}
			c.Println("Operator created")
		},
	})

	return shell
}

func createOperator(st *store.Store, email, password string) error {
	if email == "" || password == "" {
		return errors.New("email and password are required")
	}

	op := &store.Operator{
		Email: email,
		Name:  email,
		Admin: true,
	}
	if err := op.SetPassword([]byte(password)); err != nil {
		return err
	}
	return st.SaveOperator(op)
}
