package deploy

import (
	"encoding/base64"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/oastkeeper/oastkeeper/internal/oast"
)

// renderUserData produces the first-boot script for replacement instances.
// It does exactly one thing: run the bootstrap agent with this deployment's
// identifiers. All reclaim logic lives in the agent so a failed bootstrap is
// diagnosable from its log rather than from cloud-init internals.
func renderUserData(cfg Config, allocationID, volumeID string) string {
	args := []string{
		cfg.AgentPath,
		"-region", cfg.Region,
		"-volume-id", volumeID,
		"-allocation-id", allocationID,
		"-device", oast.DeviceName,
		"-mount-path", cfg.MountPath,
		"-image", cfg.Image,
		"-domain", cfg.Domain,
		"-token", cfg.Token,
	}
	if cfg.EnableFTP {
		args = append(args, "-ftp")
	}
	if cfg.EnableLDAP {
		args = append(args, "-ldap")
	}
	if cfg.EnableWildcard {
		args = append(args, "-wildcard")
	}

	lines := []string{
		"#!/bin/bash",
		"set -uo pipefail",
		"exec >> /var/log/oastkeeper-agent.log 2>&1",
		// The token and domains come through shell; quote everything.
		shellquote.Join(args...),
	}
	return strings.Join(lines, "\n") + "\n"
}

func encodeUserData(script string) string {
	return base64.StdEncoding.EncodeToString([]byte(script))
}
