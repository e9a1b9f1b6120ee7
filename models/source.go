package models

// Source is one input file: the reports owned by a single business area.
type Source struct {
	Area    string
	Path    string
	Reports []Report
}
