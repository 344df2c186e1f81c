// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package variant loads named compiler/flag profiles (spec.md §9's
// supplemented --variant support, mirroring compiletools' ct.conf
// system): a YAML document mapping a profile name to the compiler
// binaries and base flag set it should use.
package variant

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Profile is one named compiler/flag configuration.
type Profile struct {
	Name     string   `yaml:"-"`
	CPP      string   `yaml:"CPP"`
	CC       string   `yaml:"CC"`
	CXX      string   `yaml:"CXX"`
	CPPFLAGS []string `yaml:"CPPFLAGS"`
	CFLAGS   []string `yaml:"CFLAGS"`
	CXXFLAGS []string `yaml:"CXXFLAGS"`
	Include  []string `yaml:"INCLUDE"`
	ISystem  []string `yaml:"ISYSTEM"`
}

// Set is a parsed collection of named profiles, as loaded from one
// ct.conf-style YAML document.
type Set struct {
	Default  string
	Profiles map[string]Profile
}

// Load parses a variant-profile YAML document from path. The document's
// top level maps profile name to profile body; a profile named
// "default" (if present) is used when no --variant is given.
func Load(path string) (*Set, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("variant: read %s: %w", path, err)
	}
	var raw map[string]Profile
	if err := yaml.Unmarshal(buf, &raw); err != nil {
		return nil, fmt.Errorf("variant: parse %s: %w", path, err)
	}
	s := &Set{Profiles: make(map[string]Profile, len(raw))}
	for name, p := range raw {
		p.Name = name
		s.Profiles[name] = p
	}
	if _, ok := s.Profiles["default"]; ok {
		s.Default = "default"
	}
	return s, nil
}

// Get resolves name to a Profile; an empty name falls back to the set's
// default profile, if one was declared.
func (s *Set) Get(name string) (Profile, error) {
	if name == "" {
		name = s.Default
	}
	if name == "" {
		return Profile{}, fmt.Errorf("variant: no --variant given and no default profile defined")
	}
	p, ok := s.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("variant: unknown variant %q (known: %v)", name, s.Names())
	}
	return p, nil
}

// Names returns the declared profile names, sorted for stable
// --list-variants output.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.Profiles))
	for n := range s.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
