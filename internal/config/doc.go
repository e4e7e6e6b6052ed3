// Package config defines the format-agnostic description of a frame graph
// and its renderer settings, the Loader interface implemented by concrete
// formats, and Build, which turns a Model into a dag.Graph.
//
// Concrete loaders, such as the HCL one, live in separate packages.
package config
