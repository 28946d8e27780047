/*
Package lsmerge contains the merge core of an LSM storage engine. It consumes
a sorted stream of versioned records, drops versions that are no longer
visible to any reader and rewrites the remainder into size-bounded nodes of
fixed-layout pages, together with a per-node index of page boundaries.

Data Structure Documentation

Node

A node contains an index followed by a series of pages. The absolute position
of a page is the node base offset, plus the index size, plus the page offset
stored in the index entry.

    Node layout:
    +--------------+---------------+------------+--------+--------+--------+
    | index header | index entries | index keys | page 1 |  ...   | page n |
    +--------------+---------------+------------+--------+--------+--------+

    Index header (80 bytes):
    +--------------+-----------+------------+-----------+----------------+-------------+-------------+
    | magic (8)    | crc (4)   | count (4)  | keys (4)  | size key (4)   | total (4)   | dupes (4)   |
    +--------------+-----------+------------+-----------+----------------+-------------+-------------+
    | parent (4)   | seq (4)   | gen (4)    | flags (4) | offset (8)     | size (8)    | lsn min (8) |
    +--------------+-----------+------------+-----------+----------------+-------------+-------------+
    | lsn max (8)  |
    +--------------+

    Index entry (64 bytes):
    +------------+----------+-----------+--------------+-------------+--------------+-------------+--------------+
    | offset (8) | size (4) | count (4) | count dup (4)| min off (4) | min size (4) | max off (4) | max size (4) |
    +------------+----------+-----------+--------------+-------------+--------------+-------------+--------------+
    | reserved (4) | lsn min (8) | lsn min dup (8) | lsn max (8) |
    +--------------+-------------+-----------------+-------------+

Index keys hold the min and max key of each page, in entry order. The
checksum covers all index bytes following the checksum field.

Page

A page comprises of a header and a payload. The payload may be snappy
compressed, the header never is.

    Page header (48 bytes):
    +---------+-----------+---------------+----------+-----------------+-----------------+-------------+
    | crc (4) | count (4) | count dup (4) | size (4) | size origin (4) | compression (4) | lsn min (8) |
    +---------+-----------+---------------+----------+-----------------+-----------------+-------------+
    | lsn min dup (8) | lsn max (8) |
    +-----------------+-------------+

    Page payload:
    +-----------------+-------+-----------------+----------------------------------------+
    | record header 1 |  ...  | record header n | key 1, value 1, ..., key n, value n    |
    +-----------------+-------+-----------------+----------------------------------------+

    Record header (24 bytes):
    +-----------------+-----------+---------+---------+---------------+-----------------+
    | data offset (4) | flags (1) | pad (3) | lsn (8) | key size (4)  | value size (4)  |
    +-----------------+-----------+---------+---------+---------------+-----------------+

Merge

A merge session wraps the input in a WriteIter, which emits the newest version
of each key and retains older versions only while a reader at or above the
watermark may still see them. Each call to Merger.Merge builds one node and
Merger.Commit assigns its identity. The number of records per node follows
SplitLimit.
*/
package lsmerge
