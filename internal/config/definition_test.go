package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCfg(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFileLexesBlocks(t *testing.T) {
	dir := t.TempDir()
	path := writeCfg(t, dir, "objects.cfg", `
# comment line
define host {
	host_name   gw-01        ; trailing comment
	address     192.0.2.1
	_RACK       b12
}

define command{
	command_name  check-ssh
	command_line  $USER1$/check_ssh $HOSTADDRESS$
}
`)

	set := NewDefinitionSet()
	require.NoError(t, set.LoadFile(path))
	require.Len(t, set.All, 2)

	host := set.All[0]
	require.Equal(t, "host", host.Kind)
	require.Equal(t, "gw-01", host.Props["host_name"])
	require.Equal(t, "192.0.2.1", host.Props["address"])
	require.Equal(t, "b12", host.Custom["RACK"])
	require.Equal(t, 3, host.SourceLine)

	cmd := set.All[1]
	require.Equal(t, "command", cmd.Kind)
	require.Equal(t, "$USER1$/check_ssh $HOSTADDRESS$", cmd.Props["command_line"])
}

func TestLoadFileAliasCanonicalization(t *testing.T) {
	dir := t.TempDir()
	path := writeCfg(t, dir, "svc.cfg", `
define service {
	host_name    gw-01
	description  Ping
	obsess       1
	importance   7
}
`)
	set := NewDefinitionSet()
	require.NoError(t, set.LoadFile(path))
	d := set.All[0]
	require.Equal(t, "Ping", d.Props["service_description"])
	require.Equal(t, "1", d.Props["obsess_over_service"])
	require.Equal(t, "7", d.Props["hourly_value"])
}

func TestLoadFileRejectsNestedDefine(t *testing.T) {
	dir := t.TempDir()
	path := writeCfg(t, dir, "bad.cfg", "define host {\ndefine service {\n}\n}\n")
	require.Error(t, NewDefinitionSet().LoadFile(path))
}

func TestLoadFileRejectsUnterminatedBlock(t *testing.T) {
	dir := t.TempDir()
	path := writeCfg(t, dir, "bad.cfg", "define host {\nhost_name x\n")
	require.Error(t, NewDefinitionSet().LoadFile(path))
}

func TestLoadFileFollowsIncludes(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "conf.d")
	require.NoError(t, os.Mkdir(sub, 0755))
	writeCfg(t, sub, "extra.cfg", "define command {\ncommand_name from-dir\ncommand_line /bin/true\n}\n")
	writeCfg(t, dir, "included.cfg", "define command {\ncommand_name from-file\ncommand_line /bin/true\n}\n")
	main := writeCfg(t, dir, "main.cfg", "include_file=included.cfg\ninclude_dir=conf.d\n")

	set := NewDefinitionSet()
	require.NoError(t, set.LoadFile(main))
	require.Len(t, set.All, 2)
}

func TestInheritanceChildWins(t *testing.T) {
	dir := t.TempDir()
	path := writeCfg(t, dir, "tpl.cfg", `
define host {
	name              base-host
	register          0
	check_interval    10
	max_check_attempts 3
	_DC               ams
}
define host {
	use               base-host
	host_name         gw-01
	check_interval    2
}
`)
	set := NewDefinitionSet()
	require.NoError(t, set.LoadFile(path))
	require.NoError(t, set.ResolveInheritance())

	child := set.All[1]
	require.Equal(t, "2", child.Props["check_interval"], "child value wins")
	require.Equal(t, "3", child.Props["max_check_attempts"], "unset values inherit")
	require.Equal(t, "ams", child.Custom["DC"], "custom vars inherit")
	require.False(t, set.All[0].IsRegistered())
	require.True(t, child.IsRegistered())
}

func TestInheritanceAdditiveValues(t *testing.T) {
	dir := t.TempDir()
	path := writeCfg(t, dir, "tpl.cfg", `
define host {
	name          base
	register      0
	hostgroups    core
}
define host {
	use           base
	host_name     gw-01
	hostgroups    +edge
}
`)
	set := NewDefinitionSet()
	require.NoError(t, set.LoadFile(path))
	require.NoError(t, set.ResolveInheritance())
	require.Equal(t, "core,edge", set.All[1].Props["hostgroups"])
}

func TestInheritanceDetectsCycle(t *testing.T) {
	dir := t.TempDir()
	path := writeCfg(t, dir, "tpl.cfg", `
define host {
	name  a
	use   b
	register 0
}
define host {
	name  b
	use   a
	register 0
}
`)
	set := NewDefinitionSet()
	require.NoError(t, set.LoadFile(path))
	require.Error(t, set.ResolveInheritance())
}

func TestDuplicateTemplateNameRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeCfg(t, dir, "dup.cfg", `
define host {
	name  twin
	register 0
}
define host {
	name  twin
	register 0
}
`)
	require.Error(t, NewDefinitionSet().LoadFile(path))
}
