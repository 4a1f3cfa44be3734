// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package dsim

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
)

// ServerType describes one named class of server instances, as read
// from the simulation's system description (ds-system.xml).
type ServerType struct {
	Name       string
	BootupTime int64 // seconds, rounded to nearest from the source value
	HourlyRate float64
	Cores      int
}

// Catalog maps server type names to their static descriptions. It is
// read once at startup and immutable thereafter.
type Catalog struct {
	types map[string]ServerType
}

// EmptyCatalog returns a catalog with no server types; every lookup
// misses, so callers fall back to reported per-instance values.
func EmptyCatalog() *Catalog {
	return &Catalog{types: map[string]ServerType{}}
}

// Lookup returns the catalog entry for the given server type name.
func (cat *Catalog) Lookup(name string) (ServerType, bool) {
	st, ok := cat.types[name]
	return st, ok
}

// Len returns the number of server types in the catalog.
func (cat *Catalog) Len() int {
	return len(cat.types)
}

// LoadCatalog reads the system description at path. An absent file is
// not an error: the returned catalog is empty and the client runs on
// reported values and configured defaults.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return EmptyCatalog(), nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCatalog(f)
}

// ReadCatalog parses a system description. Every <server> element is
// considered, regardless of nesting.
func ReadCatalog(rdr io.Reader) (*Catalog, error) {
	cat := EmptyCatalog()
	dec := xml.NewDecoder(rdr)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return cat, nil
		} else if err != nil {
			return nil, fmt.Errorf("error parsing system description: %s", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "server" {
			continue
		}
		st, err := parseServerType(start)
		if err != nil {
			return nil, err
		}
		cat.types[st.Name] = st
	}
}

func parseServerType(elem xml.StartElement) (ServerType, error) {
	var st ServerType
	for _, attr := range elem.Attr {
		var err error
		switch attr.Name.Local {
		case "type":
			st.Name = attr.Value
		case "bootupTime":
			var boot float64
			boot, err = strconv.ParseFloat(attr.Value, 64)
			st.BootupTime = int64(math.Round(boot))
		case "hourlyRate":
			st.HourlyRate, err = strconv.ParseFloat(attr.Value, 64)
		case "cores":
			st.Cores, err = strconv.Atoi(attr.Value)
		}
		if err != nil {
			return st, fmt.Errorf("server type %q: bad %s %q: %s", st.Name, attr.Name.Local, attr.Value, err)
		}
	}
	if st.Name == "" {
		return st, fmt.Errorf("server element with no type attribute")
	}
	return st, nil
}
