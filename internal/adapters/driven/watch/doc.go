// Package watch observes a drop directory for exported bank files and
// feeds them through the import service as they appear. Hidden files,
// directories and unknown extensions are ignored; a file is imported
// once its size has been stable for one settle interval, so partially
// written downloads are not picked up.
package watch
