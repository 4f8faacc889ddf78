package natstore

import "errors"

// Sync flushes both column files to stable storage.
func (c *Column) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.sync()
}

func (c *Column) sync() error {
	return errors.Join(c.tree.Sync(), c.data.Sync())
}

// Close syncs and closes the column. Closing a closed column is a no-op.
func (c *Column) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	err := errors.Join(c.sync(), c.closeFiles())
	c.logger.LogClose(err)
	return err
}

func (c *Column) closeFiles() error {
	return errors.Join(c.tree.Close(), c.data.Close())
}
