// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// role_cmd.go - Persona management.

package cli

import (
	"errors"
	"fmt"
)

// runRoleCmd lists, shows and creates personas.
func (a *App) runRoleCmd(parser *ArgParser) int {
	switch parser.Positional(1) {
	case "", "list":
		names, err := a.Roles.List()
		if err != nil {
			return fail(err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return ExitOK

	case "show":
		name := parser.Positional(2)
		if name == "" {
			return fail(errors.New("usage: gptsh role show NAME"))
		}
		role, err := a.Roles.Get(name)
		if err != nil {
			return fail(err)
		}
		fmt.Println(TitleStyle.Render(role.Name) + DimStyle.Render(" ("+string(role.Output)+" output)"))
		fmt.Println(role.Text)
		return ExitOK

	case "create":
		name := parser.Positional(2)
		text := parser.Flag("text")
		if name == "" || text == "" {
			return fail(errors.New(`usage: gptsh role create NAME --text "system text"`))
		}
		if err := a.Roles.Create(name, text); err != nil {
			return fail(err)
		}
		fmt.Println(SuccessStyle.Render("created ") + name)
		return ExitOK

	default:
		return fail(fmt.Errorf("unknown role subcommand %q (want list, show or create)", parser.Positional(1)))
	}
}
