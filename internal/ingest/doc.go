// Package ingest reads producer logs and decodes every line into one typed
// record variant.
//
// A log is newline-delimited JSON. Blank lines and lines starting with '#'
// are ignored. Every other line is decoded on its own: a line that fails to
// decode becomes a Malformed diagnostic and the rest of the file is still
// read. The closed set of variants is listed by Kind; downstream packages
// switch on the concrete type and never look at raw JSON again.
//
// Files are discovered by prefix and suffix and always processed in name
// order. Parsing fans out across files, but results are reassembled in that
// order so the returned Batch never depends on scheduling.
package ingest
