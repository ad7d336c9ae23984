package flatfs

import (
	"strconv"
	"strings"
)

// InodeRecord is a flattened, printable view of one on-disk inode.
type InodeRecord struct {
	Inumber  int    `csv:"inumber"`
	Name     string `csv:"name"`
	State    string `csv:"state"`
	Length   int    `csv:"length"`
	Count    int    `csv:"count"`
	Direct   string `csv:"direct"`
	Indirect int    `csv:"indirect"`
}

// InodeRecords reads every inode from disk. Unused inodes with no blocks are
// skipped unless `all` is true.
func (fs *FileSystem) InodeRecords(all bool) ([]InodeRecord, error) {
	total := fs.sb.TotalInodes()
	records := make([]InodeRecord, 0, total)

	for inumber := 0; inumber < total; inumber++ {
		inode, err := fs.inodes.Load(inumber)
		if err != nil {
			return nil, err
		}

		direct := make([]string, 0, DirectPointers)
		for _, block := range inode.Direct {
			if block != NoBlock {
				direct = append(direct, strconv.Itoa(block))
			}
		}

		if !all && inode.State == StateUnused && len(direct) == 0 && inode.Indirect == NoBlock {
			continue
		}

		name, _ := fs.dir.NameOf(inumber)
		records = append(records, InodeRecord{
			Inumber:  inumber,
			Name:     name,
			State:    inode.State.String(),
			Length:   inode.Length,
			Count:    inode.Count,
			Direct:   strings.Join(direct, " "),
			Indirect: inode.Indirect,
		})
	}
	return records, nil
}
