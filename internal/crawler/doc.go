// Package crawler implements the mirror engine for paginated catalogue sites:
// URL resolution and local path mapping, the per-run dedup registry, the
// request budget, the traversal stages and the final link rewrite.
//
// A run starts at the home page and walks every category and the main
// catalogue through their "next" links. Each book page lands in its own folder
// next to its images. Once every download has finished, the links of all saved
// pages are rewritten so the tree browses offline.
package crawler
